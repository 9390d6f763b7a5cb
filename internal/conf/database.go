package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tphakala/soundbird/internal/errors"
)

// Supported database dialects.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// ErrDatabaseURLMissing is returned when no database URL is configured and fallback is disabled.
var ErrDatabaseURLMissing = errors.NewStd("DATABASE_URL is not set")

// DatabaseTarget is a parsed database URL ready to hand to a gorm dialector.
type DatabaseTarget struct {
	Dialect string
	DSN     string
}

// ParseDatabaseURL parses a DATABASE_URL value. It accepts SQLAlchemy style
// driver suffixes such as "mysql+pymysql://" and treats values without a
// scheme as SQLite file paths.
func ParseDatabaseURL(raw string) (DatabaseTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DatabaseTarget{}, ErrDatabaseURLMissing
	}

	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		// bare paths and file: URIs go straight to the sqlite driver
		return DatabaseTarget{Dialect: DialectSQLite, DSN: raw}, nil
	}
	if base, _, ok := strings.Cut(scheme, "+"); ok {
		scheme = base
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		// sqlite:///relative.db and sqlite:////absolute.db
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return DatabaseTarget{}, invalidURL(raw, "missing sqlite file path")
		}
		return DatabaseTarget{Dialect: DialectSQLite, DSN: path}, nil
	case "mysql", "mariadb":
		dsn, err := mysqlDSN(scheme + "://" + rest)
		if err != nil {
			return DatabaseTarget{}, invalidURL(raw, err.Error())
		}
		return DatabaseTarget{Dialect: DialectMySQL, DSN: dsn}, nil
	case "postgres", "postgresql":
		return DatabaseTarget{Dialect: DialectPostgres, DSN: "postgres://" + rest}, nil
	default:
		return DatabaseTarget{}, invalidURL(raw, fmt.Sprintf("unsupported scheme %q", scheme))
	}
}

// mysqlDSN converts a mysql:// URL into a go-sql-driver DSN.
func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", fmt.Errorf("missing database name")
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "3306")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = dbName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	for key, values := range u.Query() {
		if len(values) > 0 {
			cfg.Params[key] = values[0]
		}
	}
	return cfg.FormatDSN(), nil
}

func invalidURL(raw, reason string) error {
	return errors.Newf("invalid database URL: %s", reason).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("url", raw).
		Build()
}

// Target resolves the configured database, applying the SQLite fallback
// when the URL is empty and fallback is allowed.
func (s *DatabaseSettings) Target() (DatabaseTarget, error) {
	if strings.TrimSpace(s.URL) == "" && s.AllowFallback {
		path := s.FallbackPath
		if path == "" {
			path = DefaultFallbackDB
		}
		return DatabaseTarget{Dialect: DialectSQLite, DSN: path}, nil
	}
	return ParseDatabaseURL(s.URL)
}
