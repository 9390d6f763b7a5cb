// Package thumbnail implements the command that generates a species illustration.
package thumbnail

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/soundbird/internal/app"
	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/thumbnail"
)

// Command creates the thumbnail command.
func Command(settings *conf.Settings) *cobra.Command {
	var describeOnly bool

	cmd := &cobra.Command{
		Use:   "thumbnail <species>",
		Short: "Generate an illustration for a bird species",
		Long: "Look up the species on Wikipedia, turn the description into an image prompt " +
			"and print the URL of the generated image.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, strings.Join(args, " "), describeOnly)
		},
	}

	cmd.Flags().BoolVar(&describeOnly, "describe", false, "Print the description and prompt without generating an image")
	cmd.Flags().StringVar(&settings.Thumbnail.CachePath, "cache", viper.GetString("thumbnail.cachepath"), "Path to the description cache file")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, species string, describeOnly bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.New(settings)
	if err != nil {
		return err
	}
	defer rt.Close()

	var opts []thumbnail.Option
	if rt.Metrics != nil {
		opts = append(opts, thumbnail.WithMetrics(rt.Metrics.Thumbnail))
	}
	gen := thumbnail.New(&settings.Thumbnail, settings.Version, rt.Log, opts...)
	defer gen.Close()

	if describeOnly {
		desc, err := gen.Describe(ctx, species)
		if err != nil {
			return err
		}
		fmt.Printf("Description:\n%s\n\nPrompt:\n%s\n", desc, gen.BuildPrompt(ctx, species, desc))
		return nil
	}

	url, err := gen.Generate(ctx, species)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}
