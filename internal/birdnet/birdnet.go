// birdnet.go BirdNET model specific code
package birdnet

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"
	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// BirdNET runs the BirdNET TFLite analysis model over WAV recordings.
type BirdNET struct {
	settings    conf.BirdNETConfig
	labels      []string
	interpreter *tflite.Interpreter
	model       *tflite.Model
	log         logger.Logger

	rangeInterpreter *tflite.Interpreter
	rangeModel       *tflite.Model

	// infer runs one 3 s chunk through the model and returns raw logits.
	infer func(chunk []float32) ([]float32, error)
	// rangePredict scores every label for a location and week, nil when no
	// range filter model is loaded.
	rangePredict func(lat, lon, week float32) ([]float32, error)

	mu sync.Mutex
}

var _ Classifier = (*BirdNET)(nil)

// New loads the model and labels named in settings and prepares an interpreter.
func New(settings *conf.BirdNETConfig, log logger.Logger) (*BirdNET, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	bn := &BirdNET{
		settings: *settings,
		log:      log.Module("birdnet"),
	}

	labels, err := LoadLabels(settings.LabelPath)
	if err != nil {
		return nil, err
	}
	bn.labels = labels

	if err := bn.initializeModel(); err != nil {
		return nil, errors.New(fmt.Errorf("BirdNET: failed to initialize analysis model: %w", err)).
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.ModelPath).
			Build()
	}

	if err := bn.validateModelAndLabels(); err != nil {
		bn.Close()
		return nil, err
	}

	if err := bn.initializeRangeFilter(); err != nil {
		bn.Close()
		return nil, errors.New(fmt.Errorf("BirdNET: failed to initialize range filter: %w", err)).
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("range_filter_model", settings.RangeFilter.ModelPath).
			Build()
	}

	bn.infer = bn.invoke
	return bn, nil
}

// initializeModel loads and initializes the BirdNET analysis model.
func (bn *BirdNET) initializeModel() error {
	start := time.Now()

	modelData, err := os.ReadFile(bn.settings.ModelPath)
	if err != nil {
		return errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("model_path", bn.settings.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	bn.model = tflite.NewModel(modelData)
	if bn.model == nil {
		return errors.Newf("cannot load TensorFlow Lite model").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("model_size_mb", len(modelData)/1024/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := determineThreadCount(bn.settings.Threads)

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		bn.log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	bn.interpreter = tflite.NewInterpreter(bn.model, options)
	if bn.interpreter == nil {
		return fmt.Errorf("cannot create interpreter")
	}
	if status := bn.interpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("tensor allocation failed: %v", status)
	}

	// TFLite holds its own copy of the model now
	runtime.GC()

	bn.log.Info("BirdNET model initialized",
		logger.String("model", modelID(bn.settings.ModelPath)),
		logger.Int("threads", threads),
		logger.Int("physical_cores", cpuid.CPU.PhysicalCores),
		logger.Int("total_cpus", runtime.NumCPU()),
		logger.Int("labels", len(bn.labels)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// validateModelAndLabels checks that the label file matches the model's output size.
func (bn *BirdNET) validateModelAndLabels() error {
	outputTensor := bn.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return errors.Newf("cannot get output tensor from model").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	outputSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	if outputSize != len(bn.labels) {
		return errors.Newf("label count mismatch: model expects %d classes but label file has %d labels",
			outputSize, len(bn.labels)).
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("model_path", bn.settings.ModelPath).
			Context("label_path", bn.settings.LabelPath).
			Build()
	}
	return nil
}

// determineThreadCount picks the interpreter thread count. Zero means one
// thread per physical core as reported by cpuid.
func determineThreadCount(configured int) int {
	systemCPUs := runtime.NumCPU()
	if configured <= 0 {
		if cores := cpuid.CPU.PhysicalCores; cores > 0 {
			return min(cores, systemCPUs)
		}
		return systemCPUs
	}
	return min(configured, systemCPUs)
}

// modelID derives a short model name from a BirdNET model file name.
func modelID(path string) string {
	name := filepath.Base(path)
	if strings.HasPrefix(name, "BirdNET_") && strings.Contains(name, "_Model_") {
		return strings.Split(name, "_Model_")[0]
	}
	return "Custom"
}

// Close releases the interpreters and models.
func (bn *BirdNET) Close() error {
	bn.mu.Lock()
	defer bn.mu.Unlock()

	if bn.rangeInterpreter != nil {
		bn.rangeInterpreter.Delete()
		bn.rangeInterpreter = nil
	}
	if bn.rangeModel != nil {
		bn.rangeModel.Delete()
		bn.rangeModel = nil
	}

	if bn.interpreter != nil {
		bn.interpreter.Delete()
		bn.interpreter = nil
	}
	if bn.model != nil {
		bn.model.Delete()
		bn.model = nil
	}
	return nil
}
