package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/grafana"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func grafanaSetupCmd(c *client) *cobra.Command {
	var (
		grafanaURL string
		user       string
		password   string
		token      string
		appURL     string
		wait       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "grafana-setup",
		Short: "Create the Grafana datasource and dashboard for this monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appURL == "" {
				appURL = c.base
			}
			g := grafana.New(grafanaURL, user, password, nil)
			g.Token = token

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			fmt.Println("Waiting for Grafana at", grafanaURL)
			if err := g.WaitReady(ctx, time.Second); err != nil {
				return err
			}

			var eps []domain.Endpoint
			if err := c.do(http.MethodGet, "/api/endpoints", nil, &eps); err != nil {
				return fmt.Errorf("list endpoints: %w", err)
			}
			names := make([]string, 0, len(eps))
			for _, e := range eps {
				names = append(names, e.Name)
			}

			uid, created, err := g.EnsureDatasource(cmd.Context(), appURL, c.key)
			if err != nil {
				return fmt.Errorf("datasource: %w", err)
			}
			if created {
				fmt.Printf("Datasource %q created (uid %s)\n", grafana.DatasourceName, uid)
			} else {
				fmt.Printf("Datasource %q already exists (uid %s)\n", grafana.DatasourceName, uid)
			}

			dashURL, err := g.UpsertDashboard(cmd.Context(), uid, names)
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			fmt.Printf("Dashboard with %d endpoints: %s\n", len(names), dashURL)
			if len(names) == 0 {
				fmt.Println("No endpoints registered yet; rerun after adding some.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grafanaURL, "grafana-url", envOr("GRAFANA_URL", "http://localhost:3000"), "Grafana base URL")
	cmd.Flags().StringVar(&user, "user", envOr("GRAFANA_USER", "admin"), "Grafana admin user")
	cmd.Flags().StringVar(&password, "password", envOr("GRAFANA_PASSWORD", "admin"), "Grafana admin password")
	cmd.Flags().StringVar(&token, "token", os.Getenv("GRAFANA_TOKEN"), "Grafana service account token (overrides user/password)")
	cmd.Flags().StringVar(&appURL, "app-url", "", "monitor URL as seen from Grafana (default --api)")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for Grafana to come up")
	return cmd
}
