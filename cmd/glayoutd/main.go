package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"glayoutd/internal/catalog"
	"glayoutd/internal/config"
	"glayoutd/internal/engine"
	"glayoutd/internal/httpapi"
	"glayoutd/internal/hub"
	"glayoutd/internal/session"
	"glayoutd/pkg/types"
)

// accessTokenEnv names the environment variable carrying the gated-weights
// download credential. The value is forwarded to the backend and never logged.
const accessTokenEnv = "GLAYOUTD_HF_TOKEN"

type rootOptions struct {
	configPath string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "glayoutd",
		Short:         "Conversational layout-generation sessions over fine-tuned LLMs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a yaml/json/toml config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(opts.logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
		}
		opts.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(lvl).With().Timestamp().Logger()
		if opts.configPath != "" {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
		}
		return nil
	}

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newTrainCmd(opts), newCompleteCmd(opts))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// applyFlag keeps an explicit flag ahead of the config file value.
func applyFlag(flagVal, cfgVal, fallback string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	return fallback
}

func buildBackend(backend, workerURL string) (engine.Backend, error) {
	switch backend {
	case "stub":
		return engine.NewStubBackend(), nil
	case "worker", "":
		if workerURL == "" {
			return nil, fmt.Errorf("worker backend requires --worker-url")
		}
		return engine.NewWorkerBackend(workerURL, 10*time.Minute, 10*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want worker or stub)", backend)
	}
}

func buildDeps(opts *rootOptions, backend engine.Backend, checkpoints, knowledge, data, index, device string) session.Deps {
	return session.Deps{
		Backend:         backend,
		CheckpointsRoot: applyFlag(checkpoints, opts.cfg.CheckpointsDir, "glayout-checkpoints"),
		KnowledgeDir:    applyFlag(knowledge, opts.cfg.KnowledgeDir, ""),
		DataDir:         applyFlag(data, opts.cfg.DataDir, "glayout-data"),
		IndexPath:       applyFlag(index, opts.cfg.IndexPath, ""),
		Device:          applyFlag(device, opts.cfg.Device, "cpu"),
		Log:             opts.log,
	}
}

// service adapts the hub and catalog to the HTTP layer.
type service struct {
	*hub.Hub
}

func (s service) Models() []types.ModelDescriptor { return catalog.Descriptors() }
func (s service) Status() types.StatusResponse    { return s.Snapshot() }
func (s service) Ready() bool                     { return true }

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr        string
		backend     string
		workerURL   string
		checkpoints string
		knowledge   string
		data        string
		index       string
		device      string
		corsOrigins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := buildBackend(applyFlag(backend, opts.cfg.Backend, "worker"),
				applyFlag(workerURL, opts.cfg.WorkerURL, ""))
			if err != nil {
				return err
			}
			deps := buildDeps(opts, be, checkpoints, knowledge, data, index, device)
			accessToken := os.Getenv(accessTokenEnv)

			h := hub.New(hub.Config{
				Build: func(ctx context.Context, modelSize string, converseMode bool) (*session.Handler, error) {
					return session.NewHandler(ctx, modelSize, accessToken, converseMode, deps)
				},
				MaxQueueDepth: opts.cfg.MaxQueueDepth,
				MaxWait:       time.Duration(opts.cfg.MaxWaitSeconds) * time.Second,
				Log:           opts.log,
			})
			defer h.Close()

			baseCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			httpapi.SetBaseContext(baseCtx)
			httpapi.SetLogger(opts.log)
			if len(corsOrigins) > 0 {
				httpapi.SetCORSOptions(true, corsOrigins,
					[]string{"GET", "POST", "DELETE", "OPTIONS"},
					[]string{"Accept", "Content-Type"})
			}

			listenAddr := applyFlag(addr, opts.cfg.Addr, ":8080")
			srv := &http.Server{Addr: listenAddr, Handler: httpapi.NewMux(service{h})}
			go func() {
				opts.log.Info().Str("addr", listenAddr).Msg("glayoutd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					opts.log.Fatal().Err(err).Msg("server error")
				}
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			cancel()
			ctx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(ctx); err != nil {
				opts.log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&backend, "backend", "", "Numerical backend: worker|stub")
	cmd.Flags().StringVar(&workerURL, "worker-url", "", "Base URL of the numerical worker")
	cmd.Flags().StringVar(&checkpoints, "checkpoints-dir", "", "Checkpoint search/output root")
	cmd.Flags().StringVar(&knowledge, "knowledge-dir", "", "Retrieval corpus root")
	cmd.Flags().StringVar(&data, "data-dir", "", "Fine-tuning examples directory")
	cmd.Flags().StringVar(&index, "index-path", "", "Sqlite snippet index path")
	cmd.Flags().StringVar(&device, "device", "", "Compute device forwarded to the backend")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable)")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		modelSize   string
		converse    bool
		backend     string
		workerURL   string
		checkpoints string
		knowledge   string
		data        string
		index       string
		device      string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := buildBackend(applyFlag(backend, opts.cfg.Backend, "worker"),
				applyFlag(workerURL, opts.cfg.WorkerURL, ""))
			if err != nil {
				return err
			}
			deps := buildDeps(opts, be, checkpoints, knowledge, data, index, device)
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			size := applyFlag(modelSize, opts.cfg.ModelSize, "7b")
			h, err := session.NewHandler(ctx, size, os.Getenv(accessTokenEnv), converse, deps)
			if err != nil {
				return err
			}
			defer h.Close()

			fmt.Println("Session ready. Type a prompt, or 'reset' / 'exit'.")
			sc := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !sc.Scan() {
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				case "reset":
					h.Reset()
					fmt.Println("(history cleared)")
					continue
				}
				out, err := h.Generate(ctx, line)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					opts.log.Error().Err(err).Msg("turn failed")
					continue
				}
				fmt.Println(out)
			}
		},
	}
	cmd.Flags().StringVar(&modelSize, "model-size", "", "Catalog key: 3b|7b|22b")
	cmd.Flags().BoolVar(&converse, "converse", false, "Disable prompt engineering and retrieval")
	cmd.Flags().StringVar(&backend, "backend", "", "Numerical backend: worker|stub")
	cmd.Flags().StringVar(&workerURL, "worker-url", "", "Base URL of the numerical worker")
	cmd.Flags().StringVar(&checkpoints, "checkpoints-dir", "", "Checkpoint search/output root")
	cmd.Flags().StringVar(&knowledge, "knowledge-dir", "", "Retrieval corpus root")
	cmd.Flags().StringVar(&data, "data-dir", "", "Fine-tuning examples directory")
	cmd.Flags().StringVar(&index, "index-path", "", "Sqlite snippet index path")
	cmd.Flags().StringVar(&device, "device", "", "Compute device forwarded to the backend")
	return cmd
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var (
		modelSize   string
		backend     string
		workerURL   string
		checkpoints string
		data        string
		device      string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the full fine-tuning pipeline and persist the best checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := buildBackend(applyFlag(backend, opts.cfg.Backend, "worker"),
				applyFlag(workerURL, opts.cfg.WorkerURL, ""))
			if err != nil {
				return err
			}
			deps := buildDeps(opts, be, checkpoints, "", data, "", device)
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			size := applyFlag(modelSize, opts.cfg.ModelSize, "7b")
			model, _, err := session.RunFullTraining(ctx, size, os.Getenv(accessTokenEnv), deps)
			if err != nil {
				return err
			}
			defer model.Close()
			opts.log.Info().Str("model", size).Str("checkpoints", deps.CheckpointsRoot).
				Msg("training complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&modelSize, "model-size", "", "Catalog key: 3b|7b|22b")
	cmd.Flags().StringVar(&backend, "backend", "", "Numerical backend: worker|stub")
	cmd.Flags().StringVar(&workerURL, "worker-url", "", "Base URL of the numerical worker")
	cmd.Flags().StringVar(&checkpoints, "checkpoints-dir", "", "Checkpoint search/output root")
	cmd.Flags().StringVar(&data, "data-dir", "", "Fine-tuning examples directory")
	cmd.Flags().StringVar(&device, "device", "", "Compute device forwarded to the backend")
	return cmd
}

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	var (
		modelPath string
		ctxSize   int
		threads   int
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "One-shot local completion against a gguf file (requires -tags=llama)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := engine.NewLocalCompleter(modelPath, ctxSize, threads)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			out, err := c.Complete(ctx, args[0], maxTokens)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Path to a local gguf model file")
	cmd.Flags().IntVar(&ctxSize, "ctx", 4096, "Context window size")
	cmd.Flags().IntVar(&threads, "threads", 4, "CPU threads")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1000, "Maximum new tokens")
	return cmd
}
