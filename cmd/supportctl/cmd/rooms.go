package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/protocol"
	"github.com/libnamic/support-chat/internal/support"
)

var roomsJSON bool

var roomsCmd = &cobra.Command{
	Use:   "rooms [room-id]",
	Short: "List rooms that have messages, or describe one room",
	Long: `List every room with at least one retained message, oldest first.
With a room id, show who is connected to that room and its transcript.

Examples:
  supportctl rooms
  supportctl rooms --json
  supportctl rooms alice@example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return describeRoom(cmd, args[0])
		}

		resp, err := apiRequest(cmd.Context(), http.MethodGet, "/admin/rooms", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var rooms []chat.RoomSummary
		if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
			return fmt.Errorf("decode rooms: %w", err)
		}

		if roomsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rooms)
		}

		if len(rooms) == 0 {
			fmt.Println("No active rooms.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROOM\tCUSTOMER\tMESSAGES\tCONNECTED\tCREATED")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				r.RoomID, r.CustomerID, r.MessageCount, r.ActiveConnections,
				r.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

func describeRoom(cmd *cobra.Command, id string) error {
	resp, err := apiRequest(cmd.Context(), http.MethodGet, "/admin/rooms/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var detail support.RoomDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return fmt.Errorf("decode room: %w", err)
	}

	if roomsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	fmt.Printf("Room %s (customer %s), created %s\n", detail.RoomID, detail.CustomerID,
		detail.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("%d connected:\n", len(detail.Participants))
	for _, p := range detail.Participants {
		fmt.Printf("  %s (%s) %s\n", p.Name, p.Role, p.ConnectionID)
	}
	fmt.Printf("%d messages:\n", len(detail.Messages))
	for _, raw := range detail.Messages {
		f, err := protocol.ParseServerMessage(raw)
		if err != nil {
			return err
		}
		printFrame(f)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().BoolVar(&roomsJSON, "json", false, "print JSON instead of a table")
}
