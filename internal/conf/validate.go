// validate.go: settings validation
package conf

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tphakala/soundbird/internal/errors"
)

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks settings for out-of-range or inconsistent values.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateBirdNETSettings(&settings.BirdNET); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateThumbnailSettings(&settings.Thumbnail); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt broker must be set when mqtt is enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry dsn must be set when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateBirdNETSettings(c *BirdNETConfig) error {
	var problems []string
	if c.Latitude < -90 || c.Latitude > 90 {
		problems = append(problems, fmt.Sprintf("latitude %g out of range [-90, 90]", c.Latitude))
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		problems = append(problems, fmt.Sprintf("longitude %g out of range [-180, 180]", c.Longitude))
	}
	if math.IsNaN(c.MinConfidence) || c.MinConfidence < 0 || c.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("minconfidence %g out of range [0, 1]", c.MinConfidence))
	}
	if c.Overlap < 0 || c.Overlap >= 3 {
		problems = append(problems, fmt.Sprintf("overlap %g out of range [0, 3)", c.Overlap))
	}
	if c.Sensitivity <= 0 {
		problems = append(problems, "sensitivity must be positive")
	}
	if c.Threads < 0 {
		problems = append(problems, "threads must not be negative")
	}
	if t := c.RangeFilter.Threshold; math.IsNaN(float64(t)) || t < 0 || t > 1 {
		problems = append(problems, fmt.Sprintf("rangefilter threshold %g out of range [0, 1]", t))
	}
	if len(problems) > 0 {
		return fmt.Errorf("birdnet: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateWebServerSettings(c *WebServerSettings) error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver: invalid port %q", c.Port)
	}
	return nil
}

func validateDatabaseSettings(c *DatabaseSettings) error {
	if strings.TrimSpace(c.URL) == "" {
		// Missing URL without fallback is reported when the store is opened,
		// so commands that never touch the database still start.
		return nil
	}
	if _, err := ParseDatabaseURL(c.URL); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("database: maxopenconns must not be negative")
	}
	return nil
}

func validateThumbnailSettings(c *ThumbnailSettings) error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("thumbnail: requestspersecond must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("thumbnail: temperature %g out of range [0, 2]", c.Temperature)
	}
	return nil
}
