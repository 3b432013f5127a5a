package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sessiond/config"
	"github.com/rustyeddy/sessiond/market"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a CSV bar file through a session",
	Long: `Replay historical bars from a CSV file through a full session.

The CSV columns are: time,symbol,open,high,low,close,volume. A header row
is allowed. Bars must be in chronological order per symbol; out-of-order
bars are rejected and logged.

Example:
  sessiond replay --config session.yaml --file bars.csv`,
	RunE: runReplay,
}

var (
	replayConfigPath string
	replayFile       string
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	replayCmd.Flags().StringVar(&replayFile, "file", "", "path to CSV bar file (required)")
	replayCmd.MarkFlagRequired("config")
	replayCmd.MarkFlagRequired("file")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(replayConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	feed, err := market.NewCSVBarFeed(replayFile)
	if err != nil {
		return fmt.Errorf("open bar file: %w", err)
	}
	defer feed.Close()

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cancel, err := rt.start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer cancel()

	var fed, skipped int
	for ctx.Err() == nil {
		bar, ok, err := feed.Next()
		if err != nil {
			return fmt.Errorf("read bar %d: %w", fed+skipped+1, err)
		}
		if !ok {
			break
		}
		if err := rt.coord.OnBar(ctx, bar); err != nil {
			rt.log.WithError(err).Warn("bar not processed")
			skipped++
			continue
		}
		fed++
	}

	report, err := rt.shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	fmt.Printf("Replay complete: %d bars processed, %d skipped\n", fed, skipped)
	if report.PartiallyClosed {
		fmt.Println("Session stopped PARTIALLY CLOSED.")
	}
	fmt.Printf("Checkpoint: %s\n", cfg.Checkpoint.Path)
	return nil
}
