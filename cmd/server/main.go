package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-textchat/internal/api"
	"github.com/npezzotti/go-textchat/internal/config"
	"github.com/npezzotti/go-textchat/internal/server"
	"github.com/npezzotti/go-textchat/internal/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"host":             "host",
	"port":             "port",
	"http-addr":        "http_addr",
	"send-queue-size":  "send_queue_size",
	"max-message-size": "max_message_size",
	"write-wait":       "write_wait",
	"ping-interval":    "ping_interval",
	"allowed-origins":  "allowed_origins",
	"log-level":        "log_level",
}

func newFlagSet() *pflag.FlagSet {
	def := config.Default()

	fs := pflag.NewFlagSet("textchat", pflag.ExitOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("host", def.Host, "chat listener host")
	fs.Int("port", def.Port, "chat listener port")
	fs.String("http-addr", def.HTTPAddr, "HTTP address for websocket and API clients, empty to disable")
	fs.Int("send-queue-size", def.SendQueueSize, "outbound messages buffered per connection")
	fs.Int64("max-message-size", def.MaxMessageSize, "largest accepted inbound record in bytes")
	fs.Duration("write-wait", def.WriteWait, "time allowed to write one message")
	fs.Duration("ping-interval", def.PingInterval, "websocket ping interval, 0 to disable")
	fs.StringSlice("allowed-origins", def.AllowedOrigins, "comma-separated list of allowed origins for CORS")
	fs.String("log-level", def.LogLevel, "log level")
	return fs
}

func loadConfig(args []string) (*config.Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	file, _ := fs.GetString("config")
	return config.Load(v, file)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("app", "textchat").
		Logger()
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger, "textchat-stats")
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, statsUpdater, cfg)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var app *api.App
	if cfg.HTTPAddr != "" {
		app = api.NewApp(mux, logger, chatServer, cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := chatServer.Serve(ln); !errors.Is(err, server.ErrServerClosed) {
			return fmt.Errorf("chat server: %w", err)
		}
		return nil
	})

	if app != nil {
		g.Go(func() error {
			if err := app.Start(); err != nil {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if app != nil {
			if err := app.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
