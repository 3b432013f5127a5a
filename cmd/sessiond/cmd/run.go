package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sessiond/checkpoint"
	"github.com/rustyeddy/sessiond/config"
	"github.com/rustyeddy/sessiond/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session against the simulated broker",
	Long: `Run a trading session using settings from a configuration file.

Bars are generated by a random walk over the configured symbols and fed to
the session at the configured pace. Ctrl-C triggers an orderly shutdown:
open orders are cancelled, the checkpoint queue drains, and a final
checkpoint is written before the broker stops.

Example:
  sessiond run --config session.yaml --bars 500`,
	RunE: runRun,
}

var (
	runConfigPath string
	runBars       int
	runPace       time.Duration
	runSeed       int64
	runResume     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().IntVar(&runBars, "bars", 500, "number of bars to generate per symbol")
	runCmd.Flags().DurationVar(&runPace, "pace", 0, "wall-clock delay between bars (0 = as fast as possible)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "random walk seed")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume from the checkpoint file if one exists")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	if runResume {
		snap, lerr := checkpoint.Load(cfg.Checkpoint.Path)
		switch {
		case lerr == checkpoint.ErrNoCheckpoint:
			rt.log.Info("no checkpoint found, starting cold")
		case lerr != nil:
			return fmt.Errorf("load checkpoint: %w", lerr)
		default:
			if rerr := rt.coord.Resume(snap); rerr != nil {
				return fmt.Errorf("resume: %w", rerr)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cancel, err := rt.start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer cancel()

	rng := rand.New(rand.NewSource(runSeed))
	walk := make(map[string]float64, len(cfg.Decision.Symbols))
	for _, sym := range cfg.Decision.Symbols {
		walk[sym] = 100
	}

	barTime := time.Now().UTC().Truncate(time.Minute)
feed:
	for i := 0; i < runBars; i++ {
		for _, sym := range cfg.Decision.Symbols {
			open := walk[sym]
			last := open + open*0.002*rng.NormFloat64()
			if last <= 0 {
				last = open
			}
			walk[sym] = last

			bar := market.Bar{
				Symbol: sym,
				Time:   barTime,
				Open:   open,
				High:   maxF(open, last),
				Low:    minF(open, last),
				Close:  last,
				Volume: float64(1000 + rng.Intn(5000)),
			}
			if err := rt.coord.OnBar(ctx, bar); err != nil {
				rt.log.WithError(err).Warn("bar not processed")
			}
		}
		barTime = barTime.Add(time.Minute)

		if runPace > 0 {
			select {
			case <-time.After(runPace):
			case <-ctx.Done():
				break feed
			}
		} else if ctx.Err() != nil {
			break feed
		}
	}

	report, err := rt.shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	if report.PartiallyClosed {
		fmt.Println("Session stopped PARTIALLY CLOSED:")
		for _, id := range report.CancelFailures {
			fmt.Printf("  unconfirmed cancel: %s\n", id)
		}
		for _, sym := range report.OpenPositions {
			fmt.Printf("  still open: %s\n", sym)
		}
	} else {
		fmt.Println("Session stopped cleanly.")
	}
	fmt.Printf("Checkpoint: %s\n", cfg.Checkpoint.Path)
	return nil
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
