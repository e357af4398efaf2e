// redeem-proxy serves the Smol.Drop ticket redemption API. It forwards
// redemptions to the workflow webhook, normalizes whatever the webhook
// answers into one outcome shape, and hosts hold-to-confirm sessions.
//
// Configuration: --config file, then N8N_* and PORT environment, then flags.
// Default port: 8080
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/smoldrop/redeem/internal/admin"
	"github.com/smoldrop/redeem/internal/api"
	"github.com/smoldrop/redeem/internal/config"
	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/upstream"
)

const name = "redeem-proxy"

func main() {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	flags := config.BindFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := server.NewLogger(cfg.Verbose)
	srv := server.New(&server.Config{
		Name:    name,
		Port:    cfg.Port,
		Verbose: cfg.Verbose,
	}, logger)

	webhook := upstream.New(cfg.Upstream())
	if !webhook.Configured() {
		logger.Warn("webhook URL not configured, redemptions will answer NOT_CONFIGURED",
			"env", config.EnvWebhookURL)
	}
	proxy := redeem.NewProxy(webhook, logger)

	apiHandler := api.NewHandler(proxy, srv.Middleware(), logger, api.Options{
		Threshold:  cfg.Session.Threshold.Std(),
		Timeout:    cfg.Session.Timeout.Std(),
		SessionTTL: cfg.Session.TTL.Std(),
	})
	apiHandler.Routes(srv.Router)

	adminHandler := admin.NewHandler(name, apiHandler.State(), srv.Middleware(), func() any {
		return cfg.Redacted()
	})
	adminHandler.Routes(srv.Router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Session.SweepInterval.Std(); interval > 0 {
		go apiHandler.RunSweeper(ctx, interval)
	}

	logger.Info("redeem-proxy ready",
		"port", cfg.Port,
		"mode", cfg.Webhook.Mode,
		"signed", cfg.Webhook.JWTSecret != "",
	)

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}
