// Package cmd implements the supportctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	bearerToken string
)

var rootCmd = &cobra.Command{
	Use:   "supportctl",
	Short: "Operator tool for the support chat",
	Long: `supportctl talks to a running support chat server on behalf of an operator.

Available commands:
  rooms      List rooms that have messages
  watch      Join a customer's room and chat from the terminal
  block      Block a customer
  unblock    Lift a customer block
  events     Tail room events from NATS
  token      Sign a token for local testing

Most commands need an operator token, passed with --token or SUPPORT_TOKEN.`,
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("SUPPORT_SERVER", "http://localhost:8080"), "support chat server base URL")
	rootCmd.PersistentFlags().StringVarP(&bearerToken, "token", "t", os.Getenv("SUPPORT_TOKEN"), "operator token")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// wsURL turns the server base URL into a WebSocket URL for path.
func wsURL(path string) string {
	base := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// apiRequest calls the operator HTTP API and fails on any non-2xx status.
func apiRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("an operator token is required (--token or SUPPORT_TOKEN)")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
