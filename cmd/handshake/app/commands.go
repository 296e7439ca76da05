// Package app provides the entry point for the handshake command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/protocolos/handshake/pkg/logger"

	// Executor packages register themselves with the protocol registry.
	_ "github.com/protocolos/handshake/pkg/protocol/apikey"
	_ "github.com/protocolos/handshake/pkg/protocol/clientcreds"
	_ "github.com/protocolos/handshake/pkg/protocol/implicit"
	_ "github.com/protocolos/handshake/pkg/protocol/soap"
	_ "github.com/protocolos/handshake/pkg/protocol/wsproto"
)

var rootCmd = &cobra.Command{
	Use:               "handshake",
	DisableAutoGenTag: true,
	Short:             "handshake executes authentication protocols against remote services",
	Long: `handshake is a protocol execution layer: it validates credentials, runs
authentication flows, injects credentials into outbound requests, and manages
long-lived WebSocket connections for API Key, OAuth2 Client Credentials,
OAuth2 Implicit (legacy), SOAP/WS-Security, and WebSocket endpoints.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the handshake CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(protocolsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(authenticateCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(connectCmd)

	return rootCmd
}
