package birdnet

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tphakala/soundbird/internal/errors"
)

// LoadLabels reads a BirdNET label file, one "Scientific_Common" label per line.
func LoadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryFileIO).
			Context("label_path", path).
			Context("operation", "open").
			Build()
	}
	defer file.Close()

	labels, err := parseLabels(file)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("label_path", path).
			Context("operation", "parse").
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file is empty").
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}

func parseLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, scanner.Err()
}

// SplitSpeciesName splits a "Scientific_Common[_Code]" label into its names.
func SplitSpeciesName(label string) (scientific, common string) {
	if label == "" {
		return "", ""
	}

	parts := strings.Split(label, "_")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	if strings.Contains(label, " ") {
		return "", label
	}
	return label, ""
}
