package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
	"github.com/tphakala/soundbird/internal/upload"
)

// ErrNoDayFolders is returned when the recordings root has no sub-folders.
var ErrNoDayFolders = errors.NewStd("no recording folders found")

// DirectorySummary counts the work done by ProcessDirectory.
type DirectorySummary struct {
	Days        int
	Files       int
	FailedFiles int
	Detections  int
}

// ProcessDirectory analyzes every day folder under root without touching the
// database. For each folder <day> it writes <out>/<day>/detections.json and
// <out>/<day>/detections.csv. Folders are processed in parallel; files that
// fail to analyze are logged and skipped.
func (p *Processor) ProcessDirectory(ctx context.Context, root, out string, lat, lon float64) (*DirectorySummary, error) {
	days, err := dayFolders(root)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, errors.New(ErrNoDayFolders).
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("root", root).
			Build()
	}
	p.log.Info("found day folders",
		logger.String("root", root),
		logger.Int("count", len(days)),
		logger.Float64("lat", lat),
		logger.Float64("lon", lon))

	var files, failed, detections atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DirectoryWorkers)
	for _, day := range days {
		g.Go(func() error {
			rows, dayFiles, dayFailed, err := p.analyzeDay(gctx, filepath.Join(root, day), lat, lon)
			if err != nil {
				return err
			}
			files.Add(int64(dayFiles))
			failed.Add(int64(dayFailed))
			detections.Add(int64(len(rows)))
			return writeDayOutput(filepath.Join(out, day), rows)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &DirectorySummary{
		Days:        len(days),
		Files:       int(files.Load()),
		FailedFiles: int(failed.Load()),
		Detections:  int(detections.Load()),
	}
	p.log.Info("directory analysis complete",
		logger.Int("days", summary.Days),
		logger.Int("files", summary.Files),
		logger.Int("failed_files", summary.FailedFiles),
		logger.Int("detections", summary.Detections),
		logger.Duration("elapsed", time.Since(start)))
	return summary, nil
}

// dayFolders returns the names of the sub-directories of root, sorted.
func dayFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("operation", "read-recordings-root").
			Context("root", root).
			Build()
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)
	return days, nil
}

// analyzeDay classifies the WAV files directly inside dir.
func (p *Processor) analyzeDay(ctx context.Context, dir string, lat, lon float64) (rows []DetectionRow, files, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, 0, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("operation", "read-day-folder").
			Context("dir", dir).
			Build()
	}

	rows = []DetectionRow{}
	for _, e := range entries {
		if e.IsDir() || !upload.IsAudio(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, files, failed, err
		}
		files++

		path := filepath.Join(dir, e.Name())
		started := time.Now()
		detections, err := p.analyzer.Analyze(ctx, path, lat, lon)
		if err != nil {
			failed++
			p.observe("failed", started, 0)
			p.log.Warn("error analyzing file",
				logger.String("file", path),
				logger.Error(err))
			continue
		}
		p.observe("completed", started, len(detections))
		for i := range detections {
			rows = append(rows, newDetectionRow(e.Name(), &detections[i]))
		}
		p.log.Debug("file analyzed",
			logger.String("file", path),
			logger.Int("detections", len(detections)))
	}

	if files == 0 {
		p.log.Info("no audio files in folder", logger.String("dir", dir))
	}
	return rows, files, failed, nil
}

func writeDayOutput(dir string, rows []DetectionRow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return outputError(err, dir)
	}
	if err := writeRowsJSON(filepath.Join(dir, outputName+".json"), rows); err != nil {
		return outputError(err, dir)
	}
	if err := writeRowsCSV(filepath.Join(dir, outputName+".csv"), rows); err != nil {
		return outputError(err, dir)
	}
	return nil
}

func outputError(err error, dir string) error {
	return errors.New(fmt.Errorf("failed to write detections: %w", err)).
		Component("analysis").
		Category(errors.CategoryFileIO).
		Context("dir", dir).
		Build()
}
