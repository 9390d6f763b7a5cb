package birdnet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// Analyze runs the model over every chunk of rec and returns each label scoring
// at least rec.MinConfidence. With a range filter loaded, labels not expected
// at the recording site in the week of rec.Date are dropped. Detections are
// ordered by chunk, then by confidence in descending order.
func (bn *BirdNET) Analyze(ctx context.Context, rec Recording) ([]RawDetection, error) {
	start := time.Now()
	allowed, err := bn.allowedSpecies(rec)
	if err != nil {
		return nil, err
	}

	var detections []RawDetection
	chunks := 0

	err = readAudioChunks(ctx, rec.Path, bn.settings.Overlap, func(chunk []float32, startSec, endSec float64) error {
		chunks++
		logits, err := bn.predict(chunk)
		if err != nil {
			return err
		}
		detections = append(detections, bn.chunkDetections(logits, startSec, endSec, rec.MinConfidence, allowed)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	bn.log.Debug("recording analyzed",
		logger.String("path", rec.Path),
		logger.Int("chunks", chunks),
		logger.Int("detections", len(detections)),
		logger.Duration("elapsed", time.Since(start)))
	return detections, nil
}

// predict serializes access to the interpreter.
func (bn *BirdNET) predict(chunk []float32) ([]float32, error) {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	return bn.infer(chunk)
}

// invoke runs one chunk through the TFLite interpreter. Callers hold bn.mu.
func (bn *BirdNET) invoke(chunk []float32) ([]float32, error) {
	if bn.interpreter == nil {
		return nil, errors.Newf("interpreter is closed").
			Component("birdnet").
			Category(errors.CategoryState).
			Build()
	}

	inputTensor := bn.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(inputTensor.Float32s(), chunk)

	if status := bn.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	return extractPredictions(bn.interpreter.GetOutputTensor(0)), nil
}

// chunkDetections converts one chunk's logits into detections above
// minConfidence. A non-nil allowed set limits the labels reported.
func (bn *BirdNET) chunkDetections(logits []float32, startSec, endSec, minConfidence float64, allowed map[string]struct{}) []RawDetection {
	var out []RawDetection
	for i, logit := range logits {
		if i >= len(bn.labels) {
			break
		}
		if allowed != nil {
			if _, ok := allowed[bn.labels[i]]; !ok {
				continue
			}
		}
		confidence := customSigmoid(float64(logit), bn.settings.Sensitivity)
		if confidence < minConfidence {
			continue
		}
		scientific, common := SplitSpeciesName(bn.labels[i])
		out = append(out, RawDetection{
			CommonName:     common,
			ScientificName: scientific,
			Label:          bn.labels[i],
			Confidence:     confidence,
			StartSec:       startSec,
			EndSec:         endSec,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// customSigmoid applies a sigmoid function with sensitivity adjustment to a value.
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

// extractPredictions extracts prediction results from a TensorFlow Lite tensor.
func extractPredictions(tensor *tflite.Tensor) []float32 {
	predSize := tensor.Dim(tensor.NumDims() - 1)
	predictions := make([]float32, predSize)
	copy(predictions, tensor.Float32s())
	return predictions
}
