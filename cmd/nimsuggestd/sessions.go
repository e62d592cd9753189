package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

var sessionsAddr string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the sessions of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var infos []nsDomain.SessionInfo
		if err := daemonRequest(cmd.Context(), http.MethodGet, "/api/v1/sessions", &infos); err != nil {
			return err
		}
		return printSessions(cmd.OutOrStdout(), infos)
	},
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop <root>",
	Short: "Stop the session of a project root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemonRequest(cmd.Context(), http.MethodDelete, "/api/v1/sessions?root="+url.QueryEscape(args[0]), nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsAddr, "addr", "", "Daemon address (default: server.addr from config)")
	sessionsCmd.AddCommand(sessionsStopCmd)
}

func daemonAddr() (string, error) {
	if sessionsAddr != "" {
		return sessionsAddr, nil
	}
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return cfg.Server.Addr, nil
}

// daemonRequest calls the daemon API and decodes a JSON body into out when
// out is non-nil.
func daemonRequest(ctx context.Context, method, path string, out any) error {
	addr, err := daemonAddr()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon at %s: %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s (%d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printSessions(w io.Writer, infos []nsDomain.SessionInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOT\tSTATE\tPID\tQUEUED\tFILES\tRESTARTS\tUPTIME")
	for i := range infos {
		s := &infos[i]
		uptime := "-"
		if !s.StartedAt.IsZero() {
			uptime = time.Since(s.StartedAt).Truncate(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			s.Root, s.State, s.PID, s.Queued, s.OpenFiles, s.Restarts, uptime)
	}
	return tw.Flush()
}
