package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/libnamic/support-chat/internal/protocol"
	"github.com/libnamic/support-chat/internal/wsclient"
)

var watchReadOnly bool

var watchCmd = &cobra.Command{
	Use:   "watch ROOM",
	Short: "Join a customer's room and chat from the terminal",
	Long: `Join ROOM as the operator named by --token. The room's history is printed
first, then every message as it arrives. Lines typed on stdin are sent to the
room unless --read-only is set.

Examples:
  supportctl watch alice@example.com
  supportctl watch alice@example.com --read-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bearerToken == "" {
			return errors.New("an operator token is required (--token or SUPPORT_TOKEN)")
		}
		ctx := cmd.Context()

		c, err := wsclient.Dial(ctx, wsURL("/ws/"+url.PathEscape(args[0])), bearerToken)
		if err != nil {
			return err
		}
		defer c.Close()

		if !watchReadOnly {
			go func() {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					line := strings.TrimSpace(sc.Text())
					if line == "" {
						continue
					}
					if err := c.Send(line); err != nil {
						fmt.Fprintf(os.Stderr, "send: %v\n", err)
						return
					}
				}
			}()
		}

		for {
			f, err := c.Next(ctx)
			if err != nil {
				var ce *wsclient.CloseError
				switch {
				case ctx.Err() != nil:
					return nil
				case errors.As(err, &ce):
					return fmt.Errorf("server closed the connection: %d %s", ce.Code, ce.Reason)
				default:
					return err
				}
			}
			printFrame(f)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchReadOnly, "read-only", false, "do not send stdin to the room")
}

func printFrame(f protocol.ServerFrame) {
	switch f.Type {
	case protocol.TypeHistory:
		fmt.Printf("--- %d earlier messages ---\n", len(f.Messages))
		for _, m := range f.Messages {
			fmt.Printf("[%s] %s (%s): %s\n", clock(m.Timestamp), m.Sender, m.SenderRole, m.Content)
		}
		fmt.Println("---")
	case protocol.TypeMessage:
		fmt.Printf("[%s] %s (%s): %s\n", clock(f.Timestamp), f.Sender, f.SenderRole, f.Content)
	case protocol.TypeSystem:
		fmt.Printf("[%s] * %s\n", clock(f.Timestamp), f.Content)
	case protocol.TypeError:
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", f.Code, f.Message)
	}
}

func clock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(time.TimeOnly)
}
