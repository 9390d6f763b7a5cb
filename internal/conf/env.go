// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/soundbird/internal/errors"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"database.url", "DATABASE_URL", validateEnvDatabaseURL},
		{"thumbnail.openaikey", "OPENAI_API_KEY", nil},
		{"birdnet.latitude", "SOUNDBIRD_LATITUDE", validateEnvLatitude},
		{"birdnet.longitude", "SOUNDBIRD_LONGITUDE", validateEnvLongitude},
		{"birdnet.minconfidence", "SOUNDBIRD_MIN_CONFIDENCE", validateEnvConfidence},
		{"birdnet.modelpath", "SOUNDBIRD_MODEL_PATH", nil},
		{"birdnet.labelpath", "SOUNDBIRD_LABEL_PATH", nil},
		{"webserver.port", "SOUNDBIRD_PORT", validateEnvPort},
		{"upload.strictfilenames", "SOUNDBIRD_STRICT_FILENAMES", validateEnvBool},
		{"sentry.dsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds environment variables to config keys and validates set values.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvFloatRange(value string, lower, upper float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < lower || f > upper {
		return fmt.Errorf("must be between %g and %g", lower, upper)
	}
	return nil
}

func validateEnvLatitude(value string) error {
	return validateEnvFloatRange(value, -90, 90)
}

func validateEnvLongitude(value string) error {
	return validateEnvFloatRange(value, -180, 180)
}

func validateEnvConfidence(value string) error {
	return validateEnvFloatRange(value, 0, 1)
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvDatabaseURL(value string) error {
	_, err := ParseDatabaseURL(value)
	return err
}
