package main

import (
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

	"lorad/internal/config"
	"lorad/internal/engine"
	"lorad/internal/history"
	"lorad/internal/httpapi"
	"lorad/internal/manager"
	"lorad/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lorad",
		Short:         "On-device LoRA training and inference daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newModelsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		cfgPath     string
		addr        string
		modelsDir   string
		adaptersDir string
		historyDB   string
		libraryDir  string
		logLevel    string
		corsOrigins string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{
				Addr:        addr,
				ModelsDir:   modelsDir,
				AdaptersDir: adaptersDir,
				HistoryDB:   historyDB,
				LibraryDir:  libraryDir,
				LogLevel:    logLevel,
			}
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = mergeConfig(fileCfg, cfg, cmd)
			}
			applyDefaults(&cfg)
			return runServe(cfg, corsOrigins)
		},
	}

	defaultAddr := ":8090"
	if v := os.Getenv("LORAD_ADDR"); v != "" {
		defaultAddr = v
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Optional config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8090")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	cmd.Flags().StringVar(&adaptersDir, "adapters-dir", "~/models/adapters", "Directory for saved adapter files")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite file for training history (empty disables)")
	cmd.Flags().StringVar(&libraryDir, "library-dir", "", "Directory with native backend libraries")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	return cmd
}

func newModelsCmd() *cobra.Command {
	var modelsDir string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := registry.LoadDir(modelsDir)
			if err != nil {
				return err
			}
			for _, m := range models {
				if m.Quant != "" {
					fmt.Printf("%s\t(%s)\n", m.ID, m.Quant)
					continue
				}
				fmt.Println(m.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	return cmd
}

// mergeConfig overlays explicitly set flags on top of the file config.
func mergeConfig(file, flags config.Config, cmd *cobra.Command) config.Config {
	out := file
	if cmd.Flags().Changed("addr") {
		out.Addr = flags.Addr
	}
	if cmd.Flags().Changed("models-dir") {
		out.ModelsDir = flags.ModelsDir
	}
	if cmd.Flags().Changed("adapters-dir") {
		out.AdaptersDir = flags.AdaptersDir
	}
	if cmd.Flags().Changed("history-db") {
		out.HistoryDB = flags.HistoryDB
	}
	if cmd.Flags().Changed("library-dir") {
		out.LibraryDir = flags.LibraryDir
	}
	if cmd.Flags().Changed("log-level") {
		out.LogLevel = flags.LogLevel
	}
	return out
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "~/models/llm"
	}
	if cfg.AdaptersDir == "" {
		cfg.AdaptersDir = "~/models/adapters"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func runServe(cfg config.Config, corsOrigins string) error {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()

	eng, err := engine.New()
	if err != nil {
		return err
	}

	publishers := manager.MultiPublisher{httpapi.MetricsPublisher{}}
	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		publishers = append(publishers, store)
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Engine:          eng,
		Logger:          log,
		Publisher:       publishers,
		InferenceCtxLen: cfg.CtxLen,
		Threads:         cfg.Threads,
		GPULayers:       cfg.GPULayers,
	})
	if err := mgr.InitBackend(cfg.LibraryDir); err != nil {
		return err
	}

	httpapi.SetLogger(log)
	if origins := splitCSV(corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "DELETE", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	opts := httpapi.Options{
		Service:     mgr,
		ModelsDir:   cfg.ModelsDir,
		AdaptersDir: cfg.AdaptersDir,
	}
	if store != nil {
		opts.History = store
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(opts)}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("lorad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	mgr.Shutdown()
	return nil
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
