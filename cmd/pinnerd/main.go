// Command pinnerd runs the pin-offer daemon, or dispatches a one-shot
// operator command to an already-running daemon's IPC surface. Grounded on
// the teacher's cmd/synnergy/main.go: a bare cobra root command with one
// AddCommand per subsystem, most of them thin wrappers around a single
// network call.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hvym/pinnerd/internal/claims"
	"github.com/hvym/pinnerd/internal/config"
	"github.com/hvym/pinnerd/internal/daemon"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
)

var cfgFile string

// Exit code 2 is reserved for a fatal operator-identity fault: the contract
// has rejected this operator as a registered pinner, and no amount of
// retrying the event loop will change that without operator intervention.
const exitCodeFatalIdentity = 2

func main() {
	root := &cobra.Command{Use: "pinnerd", Short: "autonomous pin-offer daemon"}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(startCmd())
	root.AddCommand(approveCmd())
	root.AddCommand(rejectCmd())
	root.AddCommand(modeCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(verifyNowCmd())
	root.AddCommand(flagNowCmd())

	if err := root.Execute(); err != nil {
		if errors.Is(err, claims.ErrFatalIdentity) {
			os.Exit(exitCodeFatalIdentity)
		}
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var operatorAddress string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the daemon loop and IPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if operatorAddress == "" {
				return fmt.Errorf("start: --operator is required")
			}

			log := logrus.New()
			if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				log.SetLevel(lvl)
			}

			zlog, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("build audit logger: %w", err)
			}
			defer zlog.Sync() //nolint:errcheck

			st, err := store.Open(cfg.StorePath, zlog)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ledger := ledgerclient.NewHTTP(cfg.LedgerRPC, cfg.PinTimeout)

			d := daemon.New(cfg, operatorAddress, st, ledger, log)
			srv := d.IPCServer(cfg.IPCAddr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				log.WithField("addr", cfg.IPCAddr).Info("pinnerd: ipc server listening")
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.WithError(err).Error("pinnerd: ipc server stopped")
				}
			}()

			log.Info("pinnerd: daemon loop starting")
			runErr := d.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)

			return runErr
		},
	}
	cmd.Flags().StringVar(&operatorAddress, "operator", "", "operator's ledger address")
	return cmd
}

func approveCmd() *cobra.Command {
	var slotID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "approve an offer awaiting operator review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(fmt.Sprintf("/api/offers/%s/approve", slotID), nil)
		},
	}
	cmd.Flags().StringVar(&slotID, "slot", "", "slot id to approve")
	cmd.MarkFlagRequired("slot") //nolint:errcheck
	return cmd
}

func rejectCmd() *cobra.Command {
	var slotID string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "reject an offer awaiting operator review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(fmt.Sprintf("/api/offers/%s/reject", slotID), nil)
		},
	}
	cmd.Flags().StringVar(&slotID, "slot", "", "slot id to reject")
	cmd.MarkFlagRequired("slot") //nolint:errcheck
	return cmd
}

func modeCmd() *cobra.Command {
	var newMode string
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "get or set the daemon's runtime mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			if newMode == "" {
				return getJSON("/api/mode")
			}
			return postJSON("/api/mode", map[string]string{"mode": newMode})
		},
	}
	cmd.Flags().StringVar(&newMode, "set", "", "auto or approve")
	return cmd
}

func policyCmd() *cobra.Command {
	var minPrice, maxContentSize int64
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "update runtime policy (min_price, max_content_size)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{}
			if cmd.Flags().Changed("min-price") {
				body["min_price"] = minPrice
			}
			if cmd.Flags().Changed("max-content-size") {
				body["max_content_size"] = maxContentSize
			}
			return postJSON("/api/policy", body)
		},
	}
	cmd.Flags().Int64Var(&minPrice, "min-price", 0, "minimum acceptable offer price")
	cmd.Flags().Int64Var(&maxContentSize, "max-content-size", 0, "maximum content size in bytes")
	return cmd
}

func verifyNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-now",
		Short: "force an immediate hunter verification cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/hunter/verify_now", nil)
		},
	}
}

func flagNowCmd() *cobra.Command {
	var pinner string
	cmd := &cobra.Command{
		Use:   "flag-now",
		Short: "force an immediate flag submission against a pinner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(fmt.Sprintf("/api/hunter/flag_now/%s", pinner), nil)
		},
	}
	cmd.Flags().StringVar(&pinner, "pinner", "", "pinner address to flag")
	cmd.MarkFlagRequired("pinner") //nolint:errcheck
	return cmd
}

// ipcAddr resolves the running daemon's IPC address from config so one-shot
// commands hit the same endpoint the daemon bound at startup.
func ipcAddr() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return cfg.IPCAddr, nil
}

func postJSON(path string, body interface{}) error {
	addr, err := ipcAddr()
	if err != nil {
		return err
	}
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp, err := http.Post(fmt.Sprintf("http://%s%s", addr, path), "application/json", reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getJSON(path string) error {
	addr, err := ipcAddr()
	if err != nil {
		return err
	}
	resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	var out interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil // empty body is fine for some endpoints
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pinnerd: request failed with status %d", resp.StatusCode)
	}
	return nil
}
