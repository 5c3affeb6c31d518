// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hamed0406/apimonitor/internal/config"
)

func main() {
	var path string
	root := &cobra.Command{
		Use:           "preflight",
		Short:         "Check the API monitor configuration before deploying",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(path)
		},
	}
	root.Flags().StringVar(&path, "config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✖", err)
		os.Exit(1)
	}
}

func run(path string) error {
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, "✖", e)
		}
		return fmt.Errorf("configuration invalid")
	}
	ok("configuration valid")

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty; mutation routes are open to anyone.")
	}
	if len(cfg.PublicAPIKeys) == 0 && len(cfg.AdminAPIKeys) == 0 {
		warn("no API keys configured; read routes are open to anyone.")
	}
	for _, k := range append(append([]string{}, cfg.AdminAPIKeys...), cfg.PublicAPIKeys...) {
		if len(k) < 16 {
			warn("an API key is shorter than 16 characters.")
			break
		}
	}

	ok("API_ADDR=" + cfg.Addr)
	if strings.HasPrefix(cfg.Addr, ":") || strings.HasPrefix(cfg.Addr, "0.0.0.0") {
		warn("API listens on all interfaces.")
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		warn("STORE_DRIVER=memory; endpoints and history are lost on restart.")
	case config.DriverSQLite:
		ok("sqlite database at " + cfg.DatabasePath)
	case config.DriverPostgres:
		ok("DATABASE_URL present")
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			warn("ALLOWED_ORIGINS allows any origin.")
			break
		}
	}
	if cfg.RateLimitRPM <= 0 {
		warn("rate limiting disabled.")
	}
	if cfg.ResultRetention == 0 {
		warn("RESULT_RETENTION unset; raw check results are kept forever.")
	} else {
		ok(fmt.Sprintf("results kept for %s (%s)", cfg.ResultRetention, cfg.RetentionSchedule))
	}
	if cfg.SlackWebhookURL == "" {
		warn("SLACK_WEBHOOK_URL empty; no down alerts will be sent.")
	}
	if len(cfg.SeedEndpoints) > 0 {
		ok(fmt.Sprintf("%d seed endpoints", len(cfg.SeedEndpoints)))
	}

	ok("preflight passed")
	return nil
}
