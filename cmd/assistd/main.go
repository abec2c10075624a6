package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"assistd/internal/bus"
	"assistd/internal/common/fsutil"
	"assistd/internal/config"
	"assistd/internal/engine"
	"assistd/internal/httpapi"
	"assistd/internal/lifecycle"
	"assistd/internal/mqttpub"
	"assistd/internal/profile"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envDefault returns the environment value when set, else fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistd",
		Short:         "Voice assistant gateway: engine lifecycle and event streams over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	flags := root.Flags()
	flags.String("addr", envDefault("ASSISTD_ADDR", ":12101"), "HTTP listen address")
	flags.StringP("profile", "p", envDefault("ASSISTD_PROFILE", ""), "Name of profile to load")
	flags.String("system-profiles", envDefault("ASSISTD_SYSTEM_PROFILES", "profiles"),
		"Directory with base profile files (read only)")
	flags.String("user-profiles", envDefault("ASSISTD_USER_PROFILES", "~/.config/assistd/profiles"),
		"Directory with user profile files (read/write)")
	flags.StringSlice("engine-command", nil, "Pipeline process argv, e.g. assist-engine,--debug")
	flags.String("config", envDefault("ASSISTD_CONFIG", ""), "Path to a yaml/json/toml config file")
	flags.StringArray("set", nil, "Profile setting override as key=value (repeatable)")
	flags.String("ssl-cert", "", "TLS certificate file; enables HTTPS together with --ssl-key")
	flags.String("ssl-key", "", "TLS key file")
	flags.String("log-level", envDefault("ASSISTD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	flags.String("mqtt-broker", "", "MQTT broker URL for event republishing (optional)")

	return root
}

// loadConfig merges an optional config file with command-line flags.
// Flags that were set explicitly win over file values.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	stringFlag := func(name string, dst *string) {
		v, _ := cmd.Flags().GetString(name)
		if cmd.Flags().Changed(name) || *dst == "" {
			*dst = v
		}
	}
	stringFlag("addr", &cfg.Addr)
	stringFlag("profile", &cfg.Profile)
	stringFlag("system-profiles", &cfg.SystemDir)
	stringFlag("user-profiles", &cfg.UserDir)
	stringFlag("log-level", &cfg.LogLevel)

	if cmd.Flags().Changed("engine-command") {
		cfg.EngineCommand, _ = cmd.Flags().GetStringSlice("engine-command")
	}
	if v, _ := cmd.Flags().GetString("ssl-cert"); v != "" {
		cfg.SSL.CertFile = v
	}
	if v, _ := cmd.Flags().GetString("ssl-key"); v != "" {
		cfg.SSL.KeyFile = v
	}
	if v, _ := cmd.Flags().GetString("mqtt-broker"); v != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = v
	}

	if cfg.Addr == "" {
		cfg.Addr = ":12101"
	}
	if cfg.Profile == "" {
		return cfg, fmt.Errorf("a profile name is required (--profile or config file)")
	}
	if len(cfg.EngineCommand) == 0 {
		return cfg, fmt.Errorf("an engine command is required (--engine-command or config file)")
	}
	return cfg, nil
}

// parseOverrides turns repeated --set key=value flags into pairs.
func parseOverrides(values []string) ([][2]string, error) {
	out := make([][2]string, 0, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", v)
		}
		out = append(out, [2]string{key, value})
	}
	return out, nil
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setValues, _ := cmd.Flags().GetStringArray("set")
	overrides, err := parseOverrides(setValues)
	if err != nil {
		return err
	}

	b := bus.New()

	// Log output is teed onto the log event channel so websocket
	// subscribers see the same lines as the console.
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logWriter := io.MultiWriter(console, bus.NewLineWriter(b.Channel(bus.LogEvents)))
	log := newLogger(cfg.LogLevel, logWriter)

	store, err := profile.Open(cfg.Profile, cfg.SystemDir, cfg.UserDir)
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	applyOverrides := func() error {
		for _, kv := range overrides {
			if err := store.SetString(kv[0], kv[1]); err != nil {
				return fmt.Errorf("set %s: %w", kv[0], err)
			}
			log.Debug().Str("key", kv[0]).Str("value", kv[1]).Msg("profile override")
		}
		return nil
	}

	ctrl := lifecycle.New(lifecycle.Config{
		Factory: func() engine.Engine {
			return engine.NewRemote(engine.RemoteConfig{
				Command:    cfg.EngineCommand,
				Profile:    store.Name(),
				ProfileDir: store.UserDir(),
				Logger:     log,
			})
		},
		Bus:      b,
		Profile:  store.Name(),
		PreStart: applyOverrides,
		Logger:   log,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	if err := ctrl.Start(baseCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer ctrl.Shutdown()

	var mq *mqttpub.Publisher
	if cfg.MQTT.Enabled {
		// The bridge subscribes to LogEvents; hand it a console-only
		// logger so its own output cannot loop back onto that channel.
		mq, err = mqttpub.New(cfg.MQTT, b, newLogger(cfg.LogLevel, console))
		if err != nil {
			// Event republishing is best-effort; the gateway runs without it.
			log.Warn().Err(err).Msg("mqtt disabled")
		} else {
			defer mq.Close()
		}
	}

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins,
		[]string{"GET", "POST", "OPTIONS"}, []string{"*"})
	mux := httpapi.NewMux(httpapi.Deps{Controller: ctrl, Profile: store, Bus: b})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		useTLS := cfg.SSL.CertFile != "" && cfg.SSL.KeyFile != ""
		log.Info().Str("addr", cfg.Addr).Str("profile", store.Name()).Bool("tls", useTLS).
			Msg("assistd listening")
		var err error
		if useTLS {
			cert, certErr := fsutil.ExpandHome(cfg.SSL.CertFile)
			key, keyErr := fsutil.ExpandHome(cfg.SSL.KeyFile)
			if certErr != nil || keyErr != nil {
				errCh <- fmt.Errorf("resolve TLS files: cert=%v key=%v", certErr, keyErr)
				return
			}
			err = srv.ListenAndServeTLS(cert, key)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	// deferred ctrl.Shutdown and mq.Close run unconditionally
	return nil
}
