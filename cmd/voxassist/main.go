// Command voxassist is the entry point for the voxassist voice assistant.
//
//	voxassist serve   --config config.yaml   run the HTTP/WebSocket server
//	voxassist console --config config.yaml   talk to the assistant in a terminal
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voxassist/internal/app"
	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
	"github.com/MrWong99/voxassist/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxassist/pkg/provider/llm/openai"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "voxassist",
		Short:         "Voice assistant that turns speech into web actions and spoken replies",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	var watch time.Duration
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classify API and WebSocket sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exit(runServe(cmd.Context(), configPath, watch))
		},
	}
	serve.Flags().DurationVar(&watch, "watch", 5*time.Second, "config reload poll interval; SIGHUP also reloads (0 disables hot reload)")

	console := &cobra.Command{
		Use:   "console",
		Short: "Talk to the assistant on stdin and stdout",
		Long: `Each line typed on stdin is treated as one spoken utterance and every
reply is printed. With client.server_url set, classification is delegated to
a running voxassist server; otherwise providers.llm is used directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exit(runConsole(cmd.Context(), configPath))
		},
	}

	root.AddCommand(serve, console)
	return root
}

// exit prints err the way the rest of the CLI reports failures.
func exit(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "voxassist: %v\n", err)
		return err
	}
	return nil
}

// setup loads the config and installs the logger.
func setup(configPath string) (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found: copy configs/example.yaml to get started", configPath)
		}
		return nil, nil, err
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(levelVar))
	return cfg, levelVar, nil
}

func runServe(parent context.Context, configPath string, watch time.Duration) error {
	cfg, levelVar, err := setup(configPath)
	if err != nil {
		return err
	}
	slog.Info("voxassist starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry goes first so observe.DefaultMetrics binds to the SDK provider.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return err
	}

	opts := []app.Option{app.WithLevelVar(levelVar)}
	if watch > 0 {
		opts = append(opts, app.WithWatch(configPath, watch))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return err
	}

	if watch > 0 {
		go reloadOnHangup(ctx, application)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.Reload(); err != nil {
				slog.Warn("SIGHUP reload failed", "err", err)
			}
		}
	}
}

func runConsole(parent context.Context, configPath string) error {
	cfg, _, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var providers *app.Providers
	if cfg.Client.ServerURL == "" {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		if providers, err = app.BuildProviders(cfg, reg); err != nil {
			return err
		}
	}

	con, err := app.NewConsole(cfg, providers)
	if err != nil {
		return err
	}
	return con.Run(ctx, os.Stdin, os.Stdout)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM factories into reg.
// "openai" uses the native openai-go client; the remaining backends share the
// any-llm-go pattern of an optional APIKey and an optional BaseURL.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return oaillm.New(apiKey, entry.Model, opts...)
	})

	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	slog.Debug("registered providers", "kind", "llm", "names", reg.LLMNames())
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
