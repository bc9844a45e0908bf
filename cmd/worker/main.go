package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/RedHitMark/worker-vllm/internal/config"
	"github.com/RedHitMark/worker-vllm/internal/engine"
	"github.com/RedHitMark/worker-vllm/internal/handler"
	"github.com/RedHitMark/worker-vllm/internal/scaling"
	"github.com/RedHitMark/worker-vllm/internal/serverless"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var logLevel string

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Serverless worker adapting jobs to a running vLLM-style inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Optional config file (.yaml/.json/.toml); env vars take precedence")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Register the job handler and serve the worker protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath, logLevel)
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Resolve configuration and print it without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)
			cfg, err := resolveConfig(cfgPath, log)
			if err != nil {
				return err
			}
			log.Info().
				Str("model_name", cfg.ModelName).
				Str("model_path", cfg.ModelPath()).
				Str("engine_url", cfg.EngineURL).
				Str("addr", cfg.Addr).
				Bool("streaming", cfg.Streaming).
				Int("num_gpu_shard", cfg.NumGPUShard).
				Str("tokenizer", cfg.Tokenizer).
				Msg("resolved configuration")
			if cfg.ModelName == "" {
				return fmt.Errorf("MODEL_NAME is not set")
			}
			return nil
		},
	}

	root.AddCommand(serve, check)
	return root
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
}

func resolveConfig(cfgPath string, log zerolog.Logger) (config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		fileCfg, err := config.Load(cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg.Merge(fileCfg)
	}
	cfg.ApplyEnv(log)
	return cfg, nil
}

func runServe(cfgPath, logLevel string) error {
	log := newLogger(logLevel)
	cfg, err := resolveConfig(cfgPath, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := engine.NewClient(engine.ClientOptions{
		BaseURL: cfg.EngineURL,
		Model:   cfg.ModelPath(),
		Logger:  log.With().Str("component", "engine").Logger(),
	})
	go client.Run(ctx)

	h := handler.New(client, cfg.ModelName, log.With().Str("component", "handler").Logger())
	ctrl := scaling.New(client, 0, log.With().Str("component", "scaling").Logger())

	scfg := serverless.Config{
		ConcurrencyController: ctrl.ShouldScale,
		Addr:                  cfg.Addr,
		Logger:                log,
	}
	if cfg.Streaming {
		log.Info().Msg("starting the serverless worker with streaming enabled")
		scfg.StreamHandler = h.HandleStream
		scfg.ReturnAggregateStream = true
	} else {
		log.Info().Msg("starting the serverless worker with streaming disabled")
		scfg.Handler = h.Handle
	}
	return serverless.Start(ctx, scfg)
}
