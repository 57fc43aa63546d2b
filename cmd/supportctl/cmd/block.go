package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/libnamic/support-chat/internal/ws"
)

var (
	blockDuration string
	blockReason   string
)

var blockCmd = &cobra.Command{
	Use:   "block CUSTOMER",
	Short: "Block a customer and disconnect them",
	Long: `Block a customer from connecting. Live connections are closed at once.
Without --duration the block escalates with each offense: 15m, 1h, then 24h.

Examples:
  supportctl block alice@example.com --duration 1h --reason "abusive language"
  supportctl block alice@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(ws.BlockRequest{Duration: blockDuration, Reason: blockReason})
		if err != nil {
			return err
		}
		resp, err := apiRequest(cmd.Context(), http.MethodPut, "/admin/blocks/"+url.PathEscape(args[0]), bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var got ws.BlockResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Printf("Blocked %s for %s\n", got.CustomerID, got.Duration)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock CUSTOMER",
	Short: "Lift a customer block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiRequest(cmd.Context(), http.MethodDelete, "/admin/blocks/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		fmt.Printf("Unblocked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	blockCmd.Flags().StringVarP(&blockDuration, "duration", "d", "", "block duration, e.g. 1h (default: escalate)")
	blockCmd.Flags().StringVarP(&blockReason, "reason", "r", "", "reason recorded with the block")
}
