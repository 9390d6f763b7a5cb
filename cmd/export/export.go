// Package export implements copying the database to another backend.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/soundbird/internal/app"
	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/datastore"
)

const verifySamples = 5

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		target     string
		batchSize  int
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "export --to <database-url>",
		Short: "Copy recordings and detections to another database",
		Long: `Copy all recordings and detections from the configured database into the
database at --to, keeping their ids. Rows already present in the target are
skipped, so an interrupted export can be run again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, target, batchSize, skipVerify)
		},
	}

	cmd.Flags().StringVar(&settings.Database.URL, "from", settings.Database.URL, "Source database URL, defaults to the configured database")
	cmd.Flags().StringVar(&target, "to", "", "Target database URL: sqlite://path, mysql://... or postgres://...")
	cmd.Flags().IntVar(&batchSize, "batch-size", datastore.DefaultExportBatchSize, "Number of rows per insert batch")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Skip comparing source and target after the copy")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, target string, batchSize int, skipVerify bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.New(settings)
	if err != nil {
		return err
	}
	defer rt.Close()

	src, err := rt.Store(ctx)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	dstSettings := settings.Database
	dstSettings.URL = target
	dstSettings.AllowFallback = false
	dst, err := datastore.Open(ctx, &dstSettings, rt.Log)
	if err != nil {
		return fmt.Errorf("failed to open target database: %w", err)
	}
	defer func() { _ = dst.Close() }()

	stats, err := datastore.Export(ctx, src, dst, batchSize)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	printStats(stats)

	if skipVerify {
		return nil
	}
	if err := datastore.VerifyExport(ctx, src, dst, verifySamples); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Println("Verification passed")
	return nil
}

func printStats(stats *datastore.ExportStats) {
	fmt.Printf("%-12s %10s %10s %10s %12s\n", "Table", "Copied", "Skipped", "Failed", "Duration")
	fmt.Println(strings.Repeat("-", 58))
	for _, t := range stats.Tables {
		fmt.Printf("%-12s %10d %10d %10d %12s\n",
			t.Name, t.Copied, t.Skipped, t.Failed, t.Duration.Round(time.Millisecond))
	}
	fmt.Printf("Finished in %s\n", stats.Duration.Round(time.Millisecond))
}
