package conf

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("SOUNDBIRD_LATITUDE", "10.5")
	t.Setenv("SOUNDBIRD_MIN_CONFIDENCE", "0.25")
	t.Setenv("DATABASE_URL", "sqlite:///detections.db")

	v := viper.New()
	setDefaultConfig(v)
	settings, err := unmarshalSettings(v)
	require.NoError(t, err)

	assert.InDelta(t, 10.5, settings.BirdNET.Latitude, 1e-9)
	assert.InDelta(t, 0.25, settings.BirdNET.MinConfidence, 1e-9)
	assert.Equal(t, "sqlite:///detections.db", settings.Database.URL)
}

func TestEnvValidationReportsBadValues(t *testing.T) {
	t.Setenv("SOUNDBIRD_PORT", "99999")
	t.Setenv("SOUNDBIRD_STRICT_FILENAMES", "maybe")

	v := viper.New()
	setDefaultConfig(v)
	err := bindEnvVars(v)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "SOUNDBIRD_PORT"))
	assert.True(t, strings.Contains(err.Error(), "SOUNDBIRD_STRICT_FILENAMES"))
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"latitude ok", validateEnvLatitude, "-45.2", false},
		{"latitude high", validateEnvLatitude, "90.1", true},
		{"longitude ok", validateEnvLongitude, "179", false},
		{"longitude text", validateEnvLongitude, "east", true},
		{"confidence edge", validateEnvConfidence, "1", false},
		{"confidence negative", validateEnvConfidence, "-0.1", true},
		{"port ok", validateEnvPort, "8080", false},
		{"port zero", validateEnvPort, "0", true},
		{"bool ok", validateEnvBool, "false", false},
		{"database scheme", validateEnvDatabaseURL, "oracle://db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
