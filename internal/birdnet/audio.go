package birdnet

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/soundbird/internal/errors"
)

// Audio constants expected by the BirdNET model.
const (
	SampleRate     = 48000
	ChunkSeconds   = 3.0
	minTailSeconds = 1.5
)

// ErrUnsupportedSampleRate is returned for WAV files not recorded at 48 kHz.
var ErrUnsupportedSampleRate = errors.NewStd("unsupported sample rate, BirdNET requires 48000 Hz")

// AudioInfo is the header information of a WAV file.
type AudioInfo struct {
	SampleRate  int
	NumChannels int
	BitDepth    int
	Duration    time.Duration
}

// ReadWAVInfo reads and validates the header of a WAV file.
func ReadWAVInfo(path string) (AudioInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, audioError(err, path, "open")
	}
	defer file.Close()

	decoder, err := openDecoder(file, path)
	if err != nil {
		return AudioInfo{}, err
	}

	duration, err := decoder.Duration()
	if err != nil {
		return AudioInfo{}, audioError(err, path, "duration")
	}
	return AudioInfo{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
		Duration:    duration,
	}, nil
}

func openDecoder(file *os.File, path string) (*wav.Decoder, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, audioError(fmt.Errorf("input is not a valid WAV audio file"), path, "decode")
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return nil, audioError(fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth), path, "decode")
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return nil, audioError(fmt.Errorf("unsupported number of channels: %d", decoder.NumChans), path, "decode")
	}
	return decoder, nil
}

// chunkFunc receives one 3 s chunk of mono float samples and its position in the file.
type chunkFunc func(chunk []float32, startSec, endSec float64) error

// readAudioChunks decodes the WAV file at path and feeds it to fn in 3 s chunks,
// stepping by 3 - overlap seconds. A trailing chunk of at least 1.5 s is zero padded.
func readAudioChunks(ctx context.Context, path string, overlap float64, fn chunkFunc) error {
	file, err := os.Open(path)
	if err != nil {
		return audioError(err, path, "open")
	}
	defer file.Close()

	decoder, err := openDecoder(file, path)
	if err != nil {
		return err
	}
	if decoder.SampleRate != SampleRate {
		return errors.New(ErrUnsupportedSampleRate).
			Component("birdnet").
			Category(errors.CategoryAudio).
			Context("path", path).
			Context("sample_rate", decoder.SampleRate).
			Build()
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return audioError(err, path, "decode")
	}

	channels := int(decoder.NumChans)
	step := int((ChunkSeconds - overlap) * SampleRate)
	secondsSamples := int(ChunkSeconds * SampleRate)
	minLenSamples := int(minTailSeconds * SampleRate)

	// eight chunks of buffered audio per read
	buf := &audio.IntBuffer{
		Data:   make([]int, 8*secondsSamples*channels),
		Format: &audio.Format{SampleRate: SampleRate, NumChannels: channels},
	}

	var current []float32
	position := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return audioError(err, path, "read")
		}
		if n == 0 {
			break
		}
		current = appendMono(current, buf.Data[:n], channels, divisor)

		for len(current) >= secondsSamples {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := float64(position) / SampleRate
			if err := fn(current[:secondsSamples], start, start+ChunkSeconds); err != nil {
				return err
			}
			current = current[step:]
			position += step
		}
	}

	if len(current) >= minLenSamples {
		start := float64(position) / SampleRate
		end := start + float64(len(current))/SampleRate
		chunk := make([]float32, secondsSamples)
		copy(chunk, current)
		if err := fn(chunk, start, end); err != nil {
			return err
		}
	}
	return nil
}

// appendMono converts interleaved integer PCM to float32 and averages channels.
func appendMono(dst []float32, samples []int, channels int, divisor float32) []float32 {
	if channels == 1 {
		for _, s := range samples {
			dst = append(dst, float32(s)/divisor)
		}
		return dst
	}
	for i := 0; i+channels <= len(samples); i += channels {
		var sum float32
		for c := range channels {
			sum += float32(samples[i+c]) / divisor
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}

// getAudioDivisor returns the divisor that maps integer samples of bitDepth to [-1, 1].
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
}

func audioError(err error, path, operation string) error {
	return errors.New(err).
		Component("birdnet").
		Category(errors.CategoryAudio).
		Context("path", path).
		Context("operation", operation).
		Build()
}
