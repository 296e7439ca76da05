package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/protocol/wsproto"
	"github.com/protocolos/handshake/pkg/wsconn"
)

var (
	connectCredentialsFile string
	connectChannel         string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a managed WebSocket connection and print inbound messages",
	Long: `Open a managed WebSocket connection using the websocket protocol
credentials, subscribe to a channel (wildcard by default), and print every
inbound message until interrupted.`,
	RunE: connectCmdFunc,
}

func init() {
	connectCmd.Flags().StringVar(&connectCredentialsFile, "credentials", "", "Path to a JSON credentials file")
	connectCmd.Flags().StringVar(&connectChannel, "channel", wsconn.Wildcard, "Channel to subscribe to")
	if err := connectCmd.MarkFlagRequired("credentials"); err != nil {
		panic(err)
	}
}

func connectCmdFunc(cmd *cobra.Command, _ []string) error {
	bag, err := loadCredentials(connectCredentialsFile)
	if err != nil {
		return err
	}

	manager, err := wsproto.New().Dial(cmd.Context(), bag)
	if err != nil {
		return err
	}
	defer manager.Disconnect()

	unsubscribe := manager.Subscribe(connectChannel, func(msg wsconn.Message) {
		fmt.Printf("[%s] %s\n", msg.Channel, string(msg.Data))
	})
	defer unsubscribe()

	logger.Infof("connected, subscribed to %q; press Ctrl-C to disconnect", connectChannel)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			fmt.Println("\ndisconnecting")
			return nil
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
			stats := manager.Stats()
			logger.Debugw("connection stats",
				"state", manager.State(),
				"received", stats.MessagesReceived,
				"sent", stats.MessagesSent,
				"reconnects", stats.Reconnects,
				"latency", stats.LastLatency)
		}
	}
}
