package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Embed the timezone database so LoadLocation works on minimal images.
	_ "time/tzdata"

	"github.com/tphakala/soundbird/internal/errors"
)

// LogFilePermissions is the default file permissions for log files (rw-------)
const LogFilePermissions = 0o600

// CentralLogger owns the configured outputs and hands out module-scoped loggers.
type CentralLogger struct {
	config       LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	defaultLevel slog.Level
	moduleLevels map[string]slog.Level
	logFile      *os.File
	mu           sync.Mutex
}

// NewCentralLogger builds the console and file outputs described by cfg.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		cfg = &LoggingConfig{Console: ConsoleOutput{Enabled: true}}
	}
	c := *cfg
	applyConfigDefaults(&c)

	tz, err := loadTimezone(c.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:       c,
		timezone:     tz,
		defaultLevel: parseSlogLevel(LogLevel(c.DefaultLevel)),
		moduleLevels: make(map[string]slog.Level, len(c.ModuleLevels)),
	}
	for module, level := range c.ModuleLevels {
		cl.moduleLevels[strings.ToLower(module)] = parseSlogLevel(LogLevel(level))
	}

	var handlers []slog.Handler
	if c.Console.Enabled {
		level := parseSlogLevel(LogLevel(c.Console.Level))
		if c.Console.JSON {
			handlers = append(handlers, newJSONHandler(os.Stdout, level, tz))
		} else {
			handlers = append(handlers, newTextHandler(os.Stdout, level, tz))
		}
	}
	if c.FileOutput.Enabled {
		file, err := openLogFile(c.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		cl.logFile = file
		handlers = append(handlers, newJSONHandler(file, parseSlogLevel(LogLevel(c.FileOutput.Level)), tz))
	}
	cl.baseHandler = newMultiWriterHandler(handlers...)

	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid logging timezone %q: %w", name, err)).
			Component("logger").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return tz, nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(fmt.Errorf("failed to create log directory: %w", err)).
				Component("logger").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open log file: %w", err)).
			Component("logger").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return file, nil
}

// levelFor resolves the level for a module, falling back to its parent modules.
func (cl *CentralLogger) levelFor(module string) (slog.Level, bool) {
	name := strings.ToLower(module)
	for name != "" {
		if lvl, ok := cl.moduleLevels[name]; ok {
			return lvl, true
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return cl.defaultLevel, true
}

// Module returns a logger scoped to the named module.
func (cl *CentralLogger) Module(name string) Logger {
	root := &SlogLogger{
		handler:  cl.baseHandler,
		level:    cl.defaultLevel,
		levelFor: cl.levelFor,
		flush:    cl.Flush,
	}
	return root.Module(name)
}

// Flush syncs the log file to disk.
func (cl *CentralLogger) Flush() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.logFile == nil {
		return nil
	}
	return cl.logFile.Sync()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.logFile == nil {
		return nil
	}
	_ = cl.logFile.Sync()
	err := cl.logFile.Close()
	cl.logFile = nil
	return err
}
