package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/registry"
)

type client struct {
	base string
	key  string
	http *http.Client
}

func (c *client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.base, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:           "cli",
		Short:         "Manage the API monitor over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&c.base, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&c.key, "key", os.Getenv("API_KEY"), "API key sent as X-API-Key")

	root.AddCommand(addCmd(c), listCmd(c), deleteCmd(c), startCmd(c), stopCmd(c), summaryCmd(c), metricsCmd(c), grafanaSetupCmd(c))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addCmd(c *client) *cobra.Command {
	var (
		method   string
		headers  []string
		body     string
		expected int
		interval int
	)
	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Register an endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(args[1])
			if !strings.Contains(raw, "://") {
				raw = "https://" + raw
			}
			reg := registry.Registration{Name: args[0], URL: raw, Method: method}
			if len(headers) > 0 {
				reg.Headers = map[string]string{}
				for _, h := range headers {
					k, v, ok := strings.Cut(h, ":")
					if !ok {
						return fmt.Errorf("header %q must look like Name: value", h)
					}
					reg.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			}
			if cmd.Flags().Changed("body") {
				reg.Body = &body
			}
			if cmd.Flags().Changed("expect") {
				reg.ExpectedStatus = &expected
			}
			if cmd.Flags().Changed("interval") {
				reg.CheckInterval = &interval
			}
			var out struct {
				Endpoint domain.Endpoint `json:"endpoint"`
			}
			if err := c.do(http.MethodPost, "/api/endpoints", reg, &out); err != nil {
				return err
			}
			fmt.Printf("Added %q (id %d), checked every %ds\n", out.Endpoint.Name, out.Endpoint.ID, out.Endpoint.CheckInterval)
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "", "HTTP method (default GET)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, repeatable")
	cmd.Flags().StringVarP(&body, "body", "d", "", "request body for POST/PUT/PATCH")
	cmd.Flags().IntVar(&expected, "expect", 200, "expected status code")
	cmd.Flags().IntVar(&interval, "interval", 60, "check interval in seconds")
	return cmd
}

func listCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var eps []domain.Endpoint
			if err := c.do(http.MethodGet, "/api/endpoints", nil, &eps); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMETHOD\tURL\tEXPECT\tINTERVAL\tACTIVE")
			for _, e := range eps {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%ds\t%t\n", e.ID, e.Name, e.Method, e.URL, e.ExpectedStatus, e.CheckInterval, e.IsActive)
			}
			return tw.Flush()
		},
	}
}

func deleteCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an endpoint with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := c.do(http.MethodDelete, fmt.Sprintf("/api/endpoints/%d", id), nil, nil); err != nil {
				return err
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
}

func startCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start monitoring all active endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Message string `json:"message"`
				Started int    `json:"started"`
			}
			if err := c.do(http.MethodPost, "/api/monitoring/start", nil, &out); err != nil {
				return err
			}
			fmt.Printf("%s (%d started)\n", out.Message, out.Started)
			return nil
		},
	}
}

func stopCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop all monitoring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.do(http.MethodPost, "/api/monitoring/stop", nil, nil); err != nil {
				return err
			}
			fmt.Println("Monitoring stopped.")
			return nil
		},
	}
}

func summaryCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show rolling performance summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sums []domain.PerformanceSummary
			if err := c.do(http.MethodGet, "/api/performance_summary", nil, &sums); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDPOINT\tAVG ms\tMIN ms\tMAX ms\tSUCCESS %\tTOTAL\tFAILED\tUPDATED")
			for _, s := range sums {
				fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%.2f\t%d\t%d\t%s\n",
					s.EndpointName, s.AvgResponseTime, s.MinResponseTime, s.MaxResponseTime,
					s.SuccessRate, s.TotalRequests, s.FailedRequests, s.LastUpdated.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func metricsCmd(c *client) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "metrics ID",
		Short: "Show recent check results for an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			var res []domain.CheckResult
			if err := c.do(http.MethodGet, fmt.Sprintf("/api/endpoints/%d/metrics?hours=%d", id, hours), nil, &res); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOK\tSTATUS\tMS\tBYTES\tERROR")
			for _, r := range res {
				status := "-"
				if r.StatusCode != nil {
					status = strconv.Itoa(*r.StatusCode)
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%.1f\t%d\t%s\n",
					r.Timestamp.Local().Format(time.DateTime), r.Success, status, r.ResponseTime, r.ResponseSize, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window in hours")
	return cmd
}
