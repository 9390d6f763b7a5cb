package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// Export batch size limits.
const (
	DefaultExportBatchSize = 1000
	MaxExportBatchSize     = 10000
)

// TableStats counts the rows copied for one table.
type TableStats struct {
	Name     string
	Copied   int64
	Skipped  int64 // rows already present in the target
	Failed   int64 // rows in batches the target rejected
	Duration time.Duration
}

// ExportStats summarizes an Export run.
type ExportStats struct {
	Tables   []TableStats
	Duration time.Duration
}

// Export copies every recording and detection from src into dst, keeping
// their ids. Rows whose id already exists in dst are skipped, so an
// interrupted export can be rerun. A batch the target rejects is counted as
// failed and the copy continues.
func Export(ctx context.Context, src, dst *Store, batchSize int) (*ExportStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultExportBatchSize
	}
	if batchSize > MaxExportBatchSize {
		return nil, validationError("batch size too large", "batch_size", batchSize)
	}

	start := time.Now()
	stats := &ExportStats{}

	// parents first so foreign keys hold on every backend
	recordings, err := exportTable[Recording](ctx, src, dst, "recordings", batchSize)
	if err != nil {
		return nil, err
	}
	stats.Tables = append(stats.Tables, *recordings)

	detections, err := exportTable[Detection](ctx, src, dst, "detections", batchSize)
	if err != nil {
		return nil, err
	}
	stats.Tables = append(stats.Tables, *detections)

	if dst.dialect == conf.DialectPostgres {
		if err := resetSequences(ctx, dst, "recordings", "detections"); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func exportTable[T any](ctx context.Context, src, dst *Store, table string, batchSize int) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{Name: table}

	var total int64
	if err := src.session(ctx).Model(new(T)).Count(&total).Error; err != nil {
		return nil, dbError(err, "export-count", "table", table)
	}
	if total == 0 {
		src.log.Info("nothing to export", logger.String("table", table))
		return stats, nil
	}

	batchNum := 0
	result := src.session(ctx).Model(new(T)).FindInBatches(new([]T), batchSize, func(tx *gorm.DB, _ int) error {
		batchNum++
		records := tx.Statement.Dest.(*[]T)

		res := dst.session(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records)
		if res.Error != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed += int64(len(*records))
			src.log.Warn("export batch rejected",
				logger.String("table", table),
				logger.Int("batch", batchNum),
				logger.Error(res.Error))
			return nil
		}
		stats.Copied += res.RowsAffected
		stats.Skipped += int64(len(*records)) - res.RowsAffected

		src.log.Debug("export batch written",
			logger.String("table", table),
			logger.Int("batch", batchNum),
			logger.Int64("done", stats.Copied+stats.Skipped+stats.Failed),
			logger.Int64("total", total))
		return nil
	})
	if result.Error != nil {
		return nil, dbError(result.Error, "export-table", "table", table)
	}

	stats.Duration = time.Since(start)
	src.log.Info("table exported",
		logger.String("table", table),
		logger.Int64("copied", stats.Copied),
		logger.Int64("skipped", stats.Skipped),
		logger.Int64("failed", stats.Failed),
		logger.Duration("elapsed", stats.Duration))
	return stats, nil
}

// resetSequences moves Postgres id sequences past the copied ids.
func resetSequences(ctx context.Context, s *Store, tables ...string) error {
	for _, table := range tables {
		query := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 1)) FROM %s", table, table)
		if err := s.session(ctx).Exec(query).Error; err != nil {
			return dbError(err, "reset-sequence", "table", table)
		}
	}
	return nil
}

// ErrExportMismatch is returned by VerifyExport when the target differs from the source.
var ErrExportMismatch = errors.NewStd("exported data does not match the source")

// VerifyExport compares row counts of src and dst and checks the first
// samples rows of each table field by field.
func VerifyExport(ctx context.Context, src, dst *Store, samples int) error {
	for _, model := range []any{&Recording{}, &Detection{}} {
		var srcCount, dstCount int64
		if err := src.session(ctx).Model(model).Count(&srcCount).Error; err != nil {
			return dbError(err, "verify-count")
		}
		if err := dst.session(ctx).Model(model).Count(&dstCount).Error; err != nil {
			return dbError(err, "verify-count")
		}
		if srcCount != dstCount {
			return mismatch("row count", fmt.Sprintf("%T", model), srcCount, dstCount)
		}
	}

	var recordings []Recording
	if err := src.session(ctx).Order("id").Limit(samples).Find(&recordings).Error; err != nil {
		return dbError(err, "verify-sample")
	}
	for i := range recordings {
		want := &recordings[i]
		var got Recording
		if err := dst.session(ctx).First(&got, want.ID).Error; err != nil {
			return mismatch("missing recording", want.ID, want.FileName, err)
		}
		if got.FileName != want.FileName || got.Status != want.Status || got.Lat != want.Lat || got.Lon != want.Lon {
			return mismatch("recording fields", want.ID, want.FileName, got.FileName)
		}
	}

	var detections []Detection
	if err := src.session(ctx).Order("id").Limit(samples).Find(&detections).Error; err != nil {
		return dbError(err, "verify-sample")
	}
	for i := range detections {
		want := &detections[i]
		var got Detection
		if err := dst.session(ctx).First(&got, want.ID).Error; err != nil {
			return mismatch("missing detection", want.ID, want.Species, err)
		}
		if got.RecordingID != want.RecordingID || got.Species != want.Species ||
			got.Confidence != want.Confidence || !got.DetectionTime.Equal(want.DetectionTime) {
			return mismatch("detection fields", want.ID, want.Species, got.Species)
		}
	}
	return nil
}

func mismatch(check string, key, want, got any) error {
	return errors.New(fmt.Errorf("%w: %s %v: %v vs %v", ErrExportMismatch, check, key, want, got)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "verify-export").
		Build()
}
