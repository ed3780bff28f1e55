package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/storage"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or inspect the curator daemon",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			db, err := storage.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			d, err := daemon.New(cfg, db, logger)
			if err != nil {
				db.Close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := d.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			return nil
		},
	}
}

func newDaemonStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon over its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Paths.APIBind == "" {
				return fmt.Errorf("no api_bind configured; cannot reach the daemon")
			}

			url := "http://" + cfg.Paths.APIBind + "/api/status"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			if cfg.Paths.APIToken != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Paths.APIToken)
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned status %d", resp.StatusCode)
			}

			var status daemon.Status
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			printDaemonStatus(cmd, status)
			return nil
		},
	}
}

func printDaemonStatus(cmd *cobra.Command, status daemon.Status) {
	rows := [][]string{
		{"Running", fmt.Sprintf("%t", status.Running)},
		{"API address", status.APIAddr},
		{"Database", status.DatabasePath},
		{"Lock file", status.LockFilePath},
		{"Websocket clients", fmt.Sprintf("%d", status.WebsocketClients)},
		{"Jobs pending", fmt.Sprintf("%d", status.Queue.Pending)},
		{"Jobs processing", fmt.Sprintf("%d", status.Queue.Processing)},
		{"Jobs retrying", fmt.Sprintf("%d", status.Queue.Retrying)},
		{"Jobs completed", fmt.Sprintf("%d", status.Queue.Completed)},
		{"Jobs failed", fmt.Sprintf("%d", status.Queue.Failed)},
	}
	out := renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
	fmt.Fprintln(cmd.OutOrStdout(), out)
}
