// twin-webhook simulates the workflow webhook that redeem-proxy calls. It
// keeps tickets in memory, redeems each at most once, and can answer in any
// of the response shapes the proxy has to normalize.
//
// Integration method: point N8N_REDEEM_WEBHOOK_URL at /webhook/redeem and
// N8N_INFO_WEBHOOK_URL at /webhook/info
// Default port: 5678
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/smoldrop/redeem/internal/admin"
	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/twin"
)

const name = "twin-webhook"

func main() {
	cfg := &server.Config{Name: name}
	var (
		shape      string
		jwtSecret  string
		jwtIssuer  string
		queryParam string
		seedFile   string
	)

	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	server.BindFlags(fs, cfg)
	fs.DurationVar(&cfg.Latency, "latency", 0, "simulated response latency")
	fs.StringVar(&shape, "shape", string(twin.ShapeObject), "response shape: object, array, bare or text")
	fs.StringVar(&jwtSecret, "jwt-secret", "", "require HS256 bearer tokens signed with this secret")
	fs.StringVar(&jwtIssuer, "jwt-issuer", "", "required token issuer")
	fs.StringVar(&queryParam, "query-param", "t", "reference parameter for query delivery")
	fs.StringVar(&seedFile, "seed-file", "", "YAML file with tickets to preload")
	fs.Parse(os.Args[1:])

	cfg.ApplyEnv()
	if cfg.Port == 0 {
		cfg.Port = 5678
	}

	s, err := twin.ParseShape(shape)
	if err != nil {
		log.Fatalf("invalid --shape: %v", err)
	}

	srv := server.New(cfg, nil)
	memStore := twin.NewMemoryStore(clock.Real())

	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			log.Fatalf("failed to read seed file: %v", err)
		}
		tickets, err := twin.ParseSeed(data)
		if err != nil {
			log.Fatalf("failed to load seed data: %v", err)
		}
		memStore.Seed(tickets)
		srv.Logger.Info("loaded seed data", "file", seedFile, "tickets", len(tickets))
	}

	webhook := twin.NewHandler(memStore, srv.Middleware(), srv.Logger, twin.Options{
		Shape:      s,
		JWTSecret:  jwtSecret,
		JWTIssuer:  jwtIssuer,
		QueryParam: queryParam,
	})
	webhook.Routes(srv.Router)

	adminHandler := admin.NewHandler(name, memStore, srv.Middleware(), func() any {
		c := srv.GetConfig()
		c["shape"] = webhook.Shape()
		c["signed"] = jwtSecret != ""
		return c
	})
	adminHandler.Routes(srv.Router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.Logger.Info("twin-webhook ready",
		"port", cfg.Port,
		"shape", s,
		"redeem_endpoint", "/webhook/redeem",
	)

	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
