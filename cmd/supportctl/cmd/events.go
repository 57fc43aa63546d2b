package cmd

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/messaging"
)

var eventsNATSURL string

var eventsCmd = &cobra.Command{
	Use:   "events [TYPE...]",
	Short: "Tail room events from NATS",
	Long: `Print room events published by the server as JSON lines. With no
arguments every event is printed; otherwise only the named types.

Event types: room_created, participant_joined, participant_left, message_posted

Examples:
  supportctl events
  supportctl events message_posted --nats nats://nats.internal:4222`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := messaging.DefaultNATSConfig()
		cfg.URL = eventsNATSURL
		cfg.Name = "supportctl"

		nc, err := messaging.NewNATSClient(cfg)
		if err != nil {
			return err
		}
		defer nc.Close()

		types := make([]chat.EventType, 0, len(args))
		for _, a := range args {
			types = append(types, chat.EventType(a))
		}

		var mu sync.Mutex
		enc := json.NewEncoder(os.Stdout)
		err = nc.SubscribeEvents(func(ev chat.Event) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}, types...)
		if err != nil {
			return err
		}

		<-cmd.Context().Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsNATSURL, "nats", envOr("SUPPORT_NATS_URL", nats.DefaultURL), "NATS server URL")
}
