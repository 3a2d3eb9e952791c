package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/research-mailer/internal/research"
	"github.com/shineum/research-mailer/internal/tool"
	webtls "github.com/shineum/research-mailer/internal/tls"
	"github.com/shineum/research-mailer/internal/web"
)

// ServeCmd runs the web UI until SIGINT or SIGTERM.
type ServeCmd struct{}

func (c *ServeCmd) Run(rc *runContext) error {
	cfg := rc.cfg

	dispatcher, err := newDispatcher(rc.ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Research.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set, research runs will fail")
	}
	manager := research.NewManager(
		research.NewOpenAIClient(cfg.Research.APIKey, cfg.Research.BaseURL),
		tool.NewSendEmail(dispatcher),
		research.Config{Model: cfg.Research.Model},
	)

	var tlsConfig *tls.Config
	tlsMode := "off"
	if cfg.HTTP.TLS {
		tlsConfig, err = webtls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, listenHost(cfg.HTTP.Listen))
		if err != nil {
			return fmt.Errorf("setting up TLS: %w", err)
		}
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" {
			tlsMode = "file"
		}
	}

	server := web.New(web.ServerConfig{
		ListenAddr:      cfg.HTTP.Listen,
		Producer:        manager,
		TLSConfig:       tlsConfig,
		SeparateMetrics: cfg.HTTP.MetricsListen != "",
	})

	slog.Info("starting research-mailer",
		"listen", cfg.HTTP.Listen,
		"metrics_listen", cfg.HTTP.MetricsListen,
		"transport", dispatcher.TransportName(),
		"model", cfg.Research.Model,
		"tls_mode", tlsMode,
	)

	stopSignalLog := context.AfterFunc(rc.ctx, func() {
		slog.Info("received signal, initiating shutdown")
	})
	defer stopSignalLog()

	// If either listener fails, the group context stops the other.
	g, ctx := errgroup.WithContext(rc.ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx)
	})
	if cfg.HTTP.MetricsListen != "" {
		metricsServer := web.NewMetrics(cfg.HTTP.MetricsListen)
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("research-mailer stopped")
	return nil
}

// listenHost returns the host part of addr when it names a specific host.
func listenHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}
