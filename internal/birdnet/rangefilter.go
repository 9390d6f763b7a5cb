// rangefilter.go location and season based species filter
package birdnet

import (
	"fmt"
	"os"
	"sort"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// yearRound asks the meta model for species present in any week.
const yearRound float32 = -1

// SpeciesScore holds a species label and its range filter score.
type SpeciesScore struct {
	Score float64
	Label string
}

// initializeRangeFilter loads the meta model when one is configured.
func (bn *BirdNET) initializeRangeFilter() error {
	path := bn.settings.RangeFilter.ModelPath
	if path == "" {
		return nil
	}
	start := time.Now()

	modelData, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("range_filter_model", path).
			Build()
	}

	bn.rangeModel = tflite.NewModel(modelData)
	if bn.rangeModel == nil {
		return errors.Newf("cannot load range filter model").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("range_filter_model", path).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(1)
	bn.rangeInterpreter = tflite.NewInterpreter(bn.rangeModel, options)
	if bn.rangeInterpreter == nil {
		return fmt.Errorf("cannot create range filter interpreter")
	}
	if status := bn.rangeInterpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("range filter tensor allocation failed: %v", status)
	}

	output := bn.rangeInterpreter.GetOutputTensor(0)
	if output == nil {
		return fmt.Errorf("cannot get range filter output tensor")
	}
	if size := output.Dim(output.NumDims() - 1); size != len(bn.labels) {
		return errors.Newf("range filter model predicts %d species but label file has %d labels", size, len(bn.labels)).
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("range_filter_model", path).
			Build()
	}

	bn.rangePredict = bn.invokeRange
	bn.log.Info("range filter model initialized",
		logger.String("model", path),
		logger.Float64("threshold", float64(bn.settings.RangeFilter.Threshold)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// invokeRange runs the meta model. Callers hold bn.mu.
func (bn *BirdNET) invokeRange(lat, lon, week float32) ([]float32, error) {
	if bn.rangeInterpreter == nil {
		return nil, errors.Newf("range filter interpreter is closed").
			Component("birdnet").
			Category(errors.CategoryState).
			Build()
	}

	input := bn.rangeInterpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("cannot get range filter input tensor")
	}
	data := []float32{lat, lon, week}
	float32s := input.Float32s()
	if len(float32s) < len(data) {
		return nil, fmt.Errorf("range filter input tensor too small: need %d, have %d", len(data), len(float32s))
	}
	copy(float32s, data)

	if status := bn.rangeInterpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("range filter invoke failed: %v", status)
	}
	return extractPredictions(bn.rangeInterpreter.GetOutputTensor(0)), nil
}

// ProbableSpecies lists the labels the meta model expects at lat, lon in the
// week of date, highest score first. A zero date covers the whole year. It
// returns nil when no range filter is loaded or the location is unset.
func (bn *BirdNET) ProbableSpecies(lat, lon float64, date time.Time) ([]SpeciesScore, error) {
	if bn.rangePredict == nil || (lat == 0 && lon == 0) {
		return nil, nil
	}

	week := weekForFilter(date)
	bn.mu.Lock()
	scores, err := bn.rangePredict(float32(lat), float32(lon), week)
	bn.mu.Unlock()
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryAudioAnalysis).
			Context("operation", "range-filter").
			Context("latitude", lat).
			Context("longitude", lon).
			Context("week", week).
			Build()
	}

	threshold := bn.settings.RangeFilter.Threshold
	species := []SpeciesScore{}
	for i, score := range scores {
		if i >= len(bn.labels) {
			break
		}
		if score >= threshold {
			species = append(species, SpeciesScore{Score: float64(score), Label: bn.labels[i]})
		}
	}
	sort.SliceStable(species, func(i, j int) bool {
		return species[i].Score > species[j].Score
	})
	return species, nil
}

// allowedSpecies returns the label set for rec, or nil when every label is allowed.
func (bn *BirdNET) allowedSpecies(rec Recording) (map[string]struct{}, error) {
	species, err := bn.ProbableSpecies(rec.Latitude, rec.Longitude, rec.Date)
	if err != nil || species == nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(species))
	for _, s := range species {
		allowed[s.Label] = struct{}{}
	}
	bn.log.Debug("range filter applied",
		logger.Float64("latitude", rec.Latitude),
		logger.Float64("longitude", rec.Longitude),
		logger.Float64("week", float64(weekForFilter(rec.Date))),
		logger.Int("species", len(allowed)))
	return allowed, nil
}

// weekForFilter maps date onto the meta model's 48 week year, four weeks per
// month.
func weekForFilter(date time.Time) float32 {
	if date.IsZero() {
		return yearRound
	}
	weekInMonth := min((date.Day()-1)/7+1, 4)
	return float32((int(date.Month())-1)*4 + weekInMonth)
}
