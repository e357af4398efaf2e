// redeemctl is a command-line client for a running redeem-proxy.
//
// Usage:
//
//	redeemctl redeem <uuid>            Redeem a ticket immediately
//	redeemctl status <uuid>            Look up a ticket without redeeming it
//	redeemctl hold <uuid>              Drive a local hold-to-confirm session
//	redeemctl health                   Check the proxy's admin health endpoint
//	redeemctl test [path]              Run YAML or JSON redemption scenarios
//	redeemctl version                  Print the redeemctl version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/smoldrop/redeem/internal/client"
	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/scenario"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/session"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// errFailed marks a command that ran but whose outcome was not a success.
// It exits with status 2 so scripts can tell it apart from usage errors.
var errFailed = errors.New("redemption did not succeed")

func main() {
	global := pflag.NewFlagSet("redeemctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	baseURL := global.String("url", envOr("REDEEM_PROXY_URL", "http://localhost:8080"), "redeem-proxy base URL")
	timeout := global.Duration("timeout", 15*time.Second, "HTTP request timeout")
	global.Usage = printUsage
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	args := global.Args()
	if len(args) == 0 || args[0] == "help" {
		printUsage()
		if len(args) == 0 {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*baseURL, *timeout)
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "version":
		fmt.Printf("redeemctl version %s\n", version)
		return
	case "redeem":
		err = cmdRedeem(ctx, c, rest)
	case "status":
		err = cmdStatus(ctx, c, rest)
	case "hold":
		err = cmdHold(ctx, c, rest)
	case "health":
		err = cmdHealth(ctx, c)
	case "test":
		err = cmdTest(ctx, *baseURL, rest)
	default:
		fmt.Fprintf(os.Stderr, "redeemctl: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "redeemctl: %v\n", err)
		if errors.Is(err, errFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Printf(`redeemctl %s

Usage:
  redeemctl [--url <base>] [--timeout <d>] <command> [arguments]

Commands:
  redeem <uuid>              Redeem a ticket immediately
  status <uuid>              Look up a ticket without redeeming it
  hold <uuid> [--for <d>]    Hold for a duration, then release (default 1s)
             [--threshold <d>]
  health                     Check the proxy's admin health endpoint
  test [path] [--twin <url>] Run scenarios from a file or directory
                             (default: ./scenarios/)
  version                    Print the redeemctl version

Environment:
  REDEEM_PROXY_URL           Default for --url
  TWIN_WEBHOOK_URL           Default for test --twin
`, version)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func oneRef(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: redeemctl %s <uuid>", cmd)
	}
	return args[0], nil
}

// ---------------------------------------------------------------------------
// redeemctl redeem / status / health
// ---------------------------------------------------------------------------

func cmdRedeem(ctx context.Context, c *client.Client, args []string) error {
	ref, err := oneRef("redeem", args)
	if err != nil {
		return err
	}
	out := c.Redeem(ctx, ref)
	printJSON(out)
	if !out.OK {
		return fmt.Errorf("%w: %s", errFailed, out.Reason)
	}
	return nil
}

func cmdStatus(ctx context.Context, c *client.Client, args []string) error {
	ref, err := oneRef("status", args)
	if err != nil {
		return err
	}
	report, err := c.Status(ctx, ref)
	if err != nil {
		return err
	}
	printJSON(report)
	if !report.OK {
		return fmt.Errorf("%w: %s", errFailed, report.Reason)
	}
	return nil
}

func cmdHealth(ctx context.Context, c *client.Client) error {
	ok, body := c.Health(ctx)
	fmt.Println(body)
	if !ok {
		return errors.New("proxy unhealthy")
	}
	return nil
}

// ---------------------------------------------------------------------------
// redeemctl hold
// ---------------------------------------------------------------------------

func cmdHold(ctx context.Context, c *client.Client, args []string) error {
	fs := pflag.NewFlagSet("hold", pflag.ContinueOnError)
	holdFor := fs.Duration("for", time.Second, "how long to hold before releasing")
	threshold := fs.Duration("threshold", session.DefaultThreshold, "hold needed to confirm")
	callTimeout := fs.Duration("call-timeout", session.DefaultTimeout, "bound on the redemption call")
	verbose := fs.BoolP("verbose", "v", false, "log machine transitions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := oneRef("hold", fs.Args())
	if err != nil {
		return err
	}

	var logger *slog.Logger
	if *verbose {
		logger = server.NewLogger(true)
	}

	m := session.New(session.Config{
		Ref:       ref,
		Redeemer:  c,
		Clock:     clock.Real(),
		Threshold: *threshold,
		Timeout:   *callTimeout,
		Logger:    logger,
		OnChange: func(s session.Surface) {
			fmt.Printf("%-8s %s\n", s.State, s.Message)
		},
	})
	defer m.Close()

	start := m.Surface()
	fmt.Printf("%-8s %s\n", start.State, start.Message)
	if start.State == session.Invalid {
		return fmt.Errorf("%w: invalid reference", errFailed)
	}

	if !m.Press() {
		return fmt.Errorf("press rejected in state %s", m.State())
	}

	select {
	case <-time.After(*holdFor):
	case <-ctx.Done():
		m.Release()
		return ctx.Err()
	}
	if m.Release() {
		return fmt.Errorf("%w: released after %s, before the %s threshold", errFailed, *holdFor, *threshold)
	}

	waitCtx, cancel := context.WithTimeout(ctx, *callTimeout+time.Second)
	defer cancel()
	s, err := m.Wait(waitCtx)
	if err != nil {
		return err
	}
	if s.Outcome != nil {
		printJSON(s.Outcome)
	}
	if s.State != session.Success {
		return fmt.Errorf("%w: ended in %s", errFailed, s.State)
	}
	return nil
}

// ---------------------------------------------------------------------------
// redeemctl test
// ---------------------------------------------------------------------------

func cmdTest(ctx context.Context, proxyURL string, args []string) error {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	twinURL := fs.String("twin", envOr("TWIN_WEBHOOK_URL", "http://localhost:5678"), "twin-webhook base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "scenarios"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	var scenarios []*scenario.Scenario
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		scenarios, err = scenario.LoadDir(path)
	} else {
		var s *scenario.Scenario
		s, err = scenario.LoadScenario(path)
		scenarios = []*scenario.Scenario{s}
	}
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(map[string]string{"proxy": proxyURL, "twin": *twinURL}, nil)
	passed, failed := 0, 0
	for _, s := range scenarios {
		res, err := runner.Run(ctx, s)
		if err != nil {
			fmt.Printf("FAIL  %s: %v\n", s.Name, err)
			failed++
			continue
		}
		mark := "PASS"
		if !res.Passed {
			mark = "FAIL"
			failed++
		} else {
			passed++
		}
		fmt.Printf("%s  %s (%s)\n", mark, res.ScenarioName, res.Duration.Round(time.Millisecond))
		for _, step := range res.Steps {
			if !step.Passed {
				fmt.Printf("      %s: %s\n", step.Name, step.Error)
			}
		}
	}

	fmt.Printf("\n%d passed, %d failed (%s)\n", passed, failed, filepath.Clean(path))
	if failed > 0 {
		return fmt.Errorf("%w: %d scenario(s) failed", errFailed, failed)
	}
	return nil
}
