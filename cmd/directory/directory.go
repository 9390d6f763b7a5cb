// Package directory implements batch analysis of a folder of recordings.
package directory

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/soundbird/internal/app"
	"github.com/tphakala/soundbird/internal/conf"
)

// Command creates a new cobra.Command for directory analysis.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory <root> <output>",
		Short: "Analyze day folders of *.wav files",
		Long: "Analyze every *.wav file in each sub-folder of root and write " +
			"<output>/<folder>/detections.json and detections.csv. Nothing is stored in the database.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0], args[1])
		},
	}

	setupFlags(cmd, settings)

	return cmd
}

// setupFlags defines flags specific to the directory command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().Float64Var(&settings.BirdNET.Latitude, "latitude", viper.GetFloat64("birdnet.latitude"), "Latitude of the recording site")
	cmd.Flags().Float64Var(&settings.BirdNET.Longitude, "longitude", viper.GetFloat64("birdnet.longitude"), "Longitude of the recording site")
}

func run(ctx context.Context, settings *conf.Settings, root, out string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.New(settings)
	if err != nil {
		return err
	}
	defer rt.Close()

	processor, err := rt.Processor(ctx, nil)
	if err != nil {
		return err
	}
	summary, err := processor.ProcessDirectory(ctx, root, out, settings.BirdNET.Latitude, settings.BirdNET.Longitude)
	if err != nil {
		return err
	}

	fmt.Printf("Analyzed %d files in %d folders: %d detections, %d files failed\n",
		summary.Files, summary.Days, summary.Detections, summary.FailedFiles)
	return nil
}
