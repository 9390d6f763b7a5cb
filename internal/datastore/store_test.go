package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
)

// newMockStore returns a store backed by sqlmock speaking the MySQL dialect.
func newMockStore(t *testing.T, observer OperationObserver) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	var opts []Option
	if observer != nil {
		opts = append(opts, WithObserver(observer))
	}
	return New(db, conf.DialectMySQL, nil, opts...), mock
}

type recordingObserver struct {
	operations []string
	failures   int
}

func (o *recordingObserver) ObserveOperation(operation string, _ time.Duration, err error) {
	o.operations = append(o.operations, operation)
	if err != nil {
		o.failures++
	}
}

func TestInsertBatchRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()
	observer := &recordingObserver{}
	store, mock := newMockStore(t, observer)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `recordings`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectExec("INSERT INTO `detections`").
		WillReturnError(errors.NewStd("disk full"))
	mock.ExpectRollback()

	_, err := store.Detections().InsertBatch(context.Background(), []Detection{testDetection(1, "Blue Jay", 0.8, 0)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"detection_insert_batch"}, observer.operations)
	assert.Equal(t, 1, observer.failures)
}

func TestUpdateStatusRejectsConcurrentChange(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id`,`status` FROM `recordings`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "processing"))
	mock.ExpectExec("UPDATE `recordings` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Recordings().UpdateStatus(context.Background(), 7, StatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetectionDatabaseError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, nil)

	mock.ExpectQuery("SELECT \\* FROM `detections`").
		WillReturnError(errors.NewStd("connection reset"))

	_, err := store.Detections().Get(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.False(t, errors.Is(err, ErrDetectionNotFound))
}

func TestOpenRequiresURLWithoutFallback(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), &conf.DatabaseSettings{}, nil)
	require.ErrorIs(t, err, conf.ErrDatabaseURLMissing)
}
