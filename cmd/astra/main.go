package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"astra/internal/config"
	"astra/internal/knowledge"
	"astra/internal/runtime"
	"astra/internal/server"
)

var (
	// Global flags
	verbose    bool
	configPath string
	addr       string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "astra",
	Short: "Astra - tick-driven cognitive runtime",
	Long: `Astra is a tick-driven cognitive runtime. It parses input into intents,
routes goals through a planner and a dependency-aware scheduler, reasons
over a Datalog fact base, and folds every outcome into one atomic state
transition per tick.

Run 'astra serve' to expose the HTTP surface, or 'astra run' to execute
an instruction directly.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes a single instruction through one tick
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Execute one instruction through the tick loop",
	Long: `Parses the instruction into intents, advances the runtime by one tick,
and prints the resulting report: reply, emotion snapshot, trait weights,
and the narrative events the tick produced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, watcher, _, err := bootstrap()
		if err != nil {
			return err
		}
		defer core.Close()
		defer stopWatcher(watcher)

		if err := core.ExecuteProgram(strings.Join(args, " ")); err != nil {
			return err
		}
		report, err := core.Tick()
		if err != nil {
			return err
		}

		fmt.Println(report.Reply)
		fmt.Printf("emotion: valence=%.2f arousal=%.2f dominance=%.2f\n",
			report.Emotion.Valence, report.Emotion.Arousal, report.Emotion.Dominance)
		for _, ev := range report.Events {
			fmt.Printf("  [%d] %s: %s\n", ev.Seq, ev.Action, ev.Outcome)
		}
		return nil
	},
}

// tickCmd advances the runtime without new input
var tickCmd = &cobra.Command{
	Use:   "tick [count]",
	Short: "Advance the runtime by N ticks (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count := 1
		if len(args) == 1 {
			if _, err := fmt.Sscanf(args[0], "%d", &count); err != nil || count < 1 {
				return fmt.Errorf("invalid tick count %q", args[0])
			}
		}

		core, watcher, _, err := bootstrap()
		if err != nil {
			return err
		}
		defer core.Close()
		defer stopWatcher(watcher)

		for i := 0; i < count; i++ {
			report, err := core.Tick()
			if err != nil {
				return err
			}
			fmt.Printf("tick %d: %s\n", report.Tick, report.Reply)
		}
		return nil
	},
}

// serveCmd runs the HTTP surface and the background tick loop
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP interface",
	Long: `Starts the chat endpoint and the visualization feeds. Each chat message
drives the tick loop; shutdown is graceful on SIGINT/SIGTERM, honored at
tick boundaries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, watcher, cfg, err := bootstrap()
		if err != nil {
			return err
		}
		defer core.Close()
		defer stopWatcher(watcher)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		listen := cfg.Server.Addr
		if addr != "" {
			listen = addr
		}
		return server.New(core, logger).Run(ctx, listen)
	},
}

// bootstrap loads config and wires the runtime, plus the rules watcher
// when a rules path is configured.
func bootstrap() (*runtime.Core, *knowledge.RulesWatcher, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	core, err := runtime.Bootstrap(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	var watcher *knowledge.RulesWatcher
	if cfg.Knowledge.WatchRules && cfg.Knowledge.RulesPath != "" {
		watcher, err = knowledge.NewRulesWatcher(cfg.Knowledge.RulesPath, core.Reasoner(), logger)
		if err != nil {
			logger.Warn("rules watcher unavailable", zap.Error(err))
			watcher = nil
		} else if err := watcher.Start(context.Background()); err != nil {
			logger.Warn("rules watcher failed to start", zap.Error(err))
			watcher = nil
		}
	}
	return core, watcher, cfg, nil
}

func stopWatcher(w *knowledge.RulesWatcher) {
	if w != nil {
		w.Stop()
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
