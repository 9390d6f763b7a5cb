package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/soundbird/cmd/directory"
	"github.com/tphakala/soundbird/cmd/export"
	"github.com/tphakala/soundbird/cmd/serve"
	"github.com/tphakala/soundbird/cmd/thumbnail"
	"github.com/tphakala/soundbird/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "soundbird",
		Short:         "SoundBird bird sound analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       settings.Version,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		directory.Command(settings),
		export.Command(settings),
		thumbnail.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.BirdNET.ModelPath, "model", viper.GetString("birdnet.modelpath"), "Path to the TFLite model file")
	rootCmd.PersistentFlags().StringVar(&settings.BirdNET.LabelPath, "labels", viper.GetString("birdnet.labelpath"), "Path to the label file")
	rootCmd.PersistentFlags().Float64Var(&settings.BirdNET.MinConfidence, "min-confidence", viper.GetFloat64("birdnet.minconfidence"), "Drop detections below this confidence, between 0.0 and 1.0")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
