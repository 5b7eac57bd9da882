// Package main is the entry point for the inquiry relay.
package main

import (
	"context"
	"flag"
	"log/slog"
	netmail "net/mail"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/inquiry-relay/internal/compose"
	"github.com/shineum/inquiry-relay/internal/config"
	"github.com/shineum/inquiry-relay/internal/contact"
	"github.com/shineum/inquiry-relay/internal/intake"
	"github.com/shineum/inquiry-relay/internal/quota"
	"github.com/shineum/inquiry-relay/internal/relay"
	"github.com/shineum/inquiry-relay/internal/relay/graph"
	"github.com/shineum/inquiry-relay/internal/relay/ses"
	"github.com/shineum/inquiry-relay/internal/relay/smtp"
	"github.com/shineum/inquiry-relay/internal/relay/stdout"
	"github.com/shineum/inquiry-relay/internal/server"
	relaytls "github.com/shineum/inquiry-relay/internal/tls"
	"github.com/shineum/inquiry-relay/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	serverTLS, err := relaytls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	connector, err := selectConnector(cfg)
	if err != nil {
		slog.Error("failed to create relay connector", "error", err)
		os.Exit(1)
	}

	// The pool starts uninitialized; the first submission performs the handshake.
	pool := relay.NewPool(connector, cfg.Relay.ConnectTimeout)
	dispatcher := relay.NewDispatcher(pool, cfg.Relay.SendTimeout)

	decoder := intake.NewDecoder(intake.DecoderConfig{
		MaxBodyBytes:  cfg.Form.MaxBodyBytes,
		MaxFieldBytes: cfg.Form.MaxFieldBytes,
		Spool: intake.SpoolLimits{
			MaxCount:      cfg.Quota.MaxCount,
			MaxItemBytes:  cfg.Quota.MaxItemBytes,
			MaxTotalBytes: cfg.Quota.MaxTotalBytes,
		},
	})
	composer := compose.New(compose.Config{
		Sender:        cfg.Mail.Sender,
		Recipients:    cfg.Mail.Recipients,
		SubjectPrefix: cfg.Mail.SubjectPrefix,
	})
	service := contact.NewService(
		validate.New(cfg.Form.RequiredFields),
		quota.Policy{
			MaxCount:      cfg.Quota.MaxCount,
			MaxItemBytes:  cfg.Quota.MaxItemBytes,
			MaxTotalBytes: cfg.Quota.MaxTotalBytes,
			Mode:          quota.Mode(cfg.Quota.Mode),
		},
		composer,
		dispatcher,
	)

	srv := server.New(server.Config{
		ListenAddr:  cfg.HTTP.Listen,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		TLSConfig:   serverTLS,
		Contact:     contact.NewHandler(decoder, service),
		Relay:       pool,
	})

	slog.Info("starting inquiry-relay",
		"listen", cfg.HTTP.Listen,
		"provider", connector.Name(),
		"https", serverTLS != nil,
		"quota_mode", cfg.Quota.Mode,
		"recipients", len(cfg.Mail.Recipients),
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Start the server (blocks until context is cancelled)
	serveErr := srv.ListenAndServe(ctx)

	if err := pool.Close(); err != nil {
		slog.Warn("failed to close relay session", "error", err)
	}

	if serveErr != nil {
		slog.Error("server error", "error", serveErr)
		os.Exit(1)
	}

	slog.Info("inquiry-relay stopped")
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
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectConnector chooses the delivery transport. An explicit PROVIDER wins;
// otherwise the first configured transport is used in the order SMTP, Graph,
// SES, falling back to stdout.
func selectConnector(cfg *config.Config) (relay.Connector, error) {
	provider := cfg.Provider
	if provider == "" {
		switch {
		case cfg.SMTPConfigured():
			provider = "smtp"
		case cfg.GraphConfigured():
			provider = "graph"
		case cfg.SESConfigured():
			provider = "ses"
		default:
			provider = "stdout"
		}
		slog.Info("provider auto-detected", "provider", provider)
	}

	switch provider {
	case "smtp":
		clientTLS, err := relaytls.ClientConfig(cfg.SMTP.Host, cfg.SMTP.CAFile)
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP relay",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTPPort(),
			"implicit_tls", cfg.SMTP.ImplicitTLS,
			"auth", cfg.SMTP.Username != "",
		)
		return smtp.New(smtp.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTPPort(),
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
			HeloName:    cfg.SMTP.HeloName,
			TLSConfig:   clientTLS,
		}), nil

	case "graph":
		mailbox := cfg.Mail.Sender
		if addr, err := netmail.ParseAddress(cfg.Mail.Sender); err == nil {
			mailbox = addr.Address
		}
		slog.Info("using Microsoft Graph provider", "mailbox", mailbox)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Mailbox:      mailbox,
		}), nil

	case "ses":
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		return ses.New(ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		}), nil

	default:
		slog.Info("using stdout provider")
		return stdout.New(), nil
	}
}
