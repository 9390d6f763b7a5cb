// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with the packages that consume them.
const (
	DefaultMinConfidence        = 0.5
	DefaultRangeFilterThreshold = 0.03
	DefaultCachePath            = "bird_descriptions.json"
	DefaultFallbackDB           = "soundbird.db"
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "SoundBird")

	v.SetDefault("database.url", "")
	v.SetDefault("database.allowfallback", false)
	v.SetDefault("database.fallbackpath", DefaultFallbackDB)
	v.SetDefault("database.slowquerythreshold", 200*time.Millisecond)
	v.SetDefault("database.maxopenconns", 10)

	v.SetDefault("birdnet.modelpath", "model/BirdNET_GLOBAL_6K_V2.4_Model_FP32.tflite")
	v.SetDefault("birdnet.labelpath", "model/BirdNET_GLOBAL_6K_V2.4_Labels.txt")
	v.SetDefault("birdnet.sensitivity", 1.0)
	v.SetDefault("birdnet.overlap", 0.0)
	v.SetDefault("birdnet.threads", 0)
	v.SetDefault("birdnet.minconfidence", DefaultMinConfidence)
	v.SetDefault("birdnet.latitude", 48.4328)
	v.SetDefault("birdnet.longitude", -123.4675)
	v.SetDefault("birdnet.rangefilter.modelpath", "")
	v.SetDefault("birdnet.rangefilter.threshold", DefaultRangeFilterThreshold)

	v.SetDefault("upload.strictfilenames", true)
	v.SetDefault("upload.maxsize", "512M")
	v.SetDefault("upload.tempdir", "")

	v.SetDefault("webserver.debug", false)
	v.SetDefault("webserver.host", "")
	v.SetDefault("webserver.port", "8000")
	v.SetDefault("webserver.alloworigins", []string{"*"})
	v.SetDefault("webserver.shutdowntimeout", 10*time.Second)

	v.SetDefault("thumbnail.cachepath", DefaultCachePath)
	v.SetDefault("thumbnail.wikipediaendpoint", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("thumbnail.requestspersecond", 2.0)
	v.SetDefault("thumbnail.openaikey", "")
	v.SetDefault("thumbnail.openaibaseurl", "https://api.openai.com/v1")
	v.SetDefault("thumbnail.chatmodel", "gpt-4")
	v.SetDefault("thumbnail.imagemodel", "dall-e-3")
	v.SetDefault("thumbnail.imagesize", "1024x1024")
	v.SetDefault("thumbnail.temperature", 0.7)
	v.SetDefault("thumbnail.timeout", 60*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "soundbird/recordings")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/soundbird.log")
	v.SetDefault("logging.file.level", "debug")
}
