// Package main is the entry point for the research mailer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/shineum/research-mailer/internal/config"
	"github.com/shineum/research-mailer/internal/dispatch"
	"github.com/shineum/research-mailer/internal/transport"
	"github.com/shineum/research-mailer/internal/transport/graph"
	"github.com/shineum/research-mailer/internal/transport/resend"
	"github.com/shineum/research-mailer/internal/transport/sendgrid"
	"github.com/shineum/research-mailer/internal/transport/ses"
	"github.com/shineum/research-mailer/internal/transport/stdout"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string   `help:"Path to YAML configuration file (optional)." type:"path"`
	EnvFile []string `help:"Dotenv file to load; values override the environment. Repeatable." name:"env-file" default:".env"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"withargs" help:"Serve the research UI (default)."`
	Send  SendCmd  `cmd:"" help:"Email a report file to the configured recipient."`
}

// runContext is bound into every command's Run method.
type runContext struct {
	ctx    context.Context
	cfg    *config.Config
	stdout io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("research-mailer"),
		kong.Description("Research a topic with an LLM and email the report."),
		kong.UsageOnError(),
	)

	if err := loadEnvFiles(cli.EnvFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := kctx.Run(&runContext{ctx: ctx, cfg: cfg, stdout: os.Stdout}); err != nil {
		slog.Error("command failed", "command", kctx.Command(), "error", err)
		stop()
		os.Exit(1)
	}
}

// loadEnvFiles loads dotenv files in order, each overriding the process
// environment. Missing files are skipped.
func loadEnvFiles(paths []string) error {
	for _, path := range paths {
		if err := godotenv.Overload(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("env file not found, skipping", "path", path)
				continue
			}
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newDispatcher builds the dispatcher for the configured provider.
func newDispatcher(ctx context.Context, cfg *config.Config) (*dispatch.Dispatcher, error) {
	t, err := selectTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	credName, credValue := cfg.Credential()
	return dispatch.New(dispatch.Config{
		Sender:         cfg.Email.From,
		Recipient:      cfg.Email.To,
		Credential:     credValue,
		CredentialName: credName,
		Timeout:        cfg.Send.Timeout,
	}, t), nil
}

// selectTransport chooses the email delivery backend named by PROVIDER.
func selectTransport(ctx context.Context, cfg *config.Config) (transport.EmailTransport, error) {
	switch cfg.Provider {
	case config.ProviderSendGrid:
		slog.Info("using SendGrid transport", "host", cfg.SendGrid.Host)
		return sendgrid.New(sendgrid.Config{
			APIKey:  cfg.SendGrid.APIKey,
			Host:    cfg.SendGrid.Host,
			Timeout: cfg.Send.Timeout,
		}), nil

	case config.ProviderSES:
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating SES transport: %w", err)
		}
		return t, nil

	case config.ProviderResend:
		slog.Info("using Resend transport")
		return resend.New(cfg.Resend.APIKey), nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph transport", "tenant_id", cfg.Graph.TenantID)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Timeout:      cfg.Send.Timeout,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout transport")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
