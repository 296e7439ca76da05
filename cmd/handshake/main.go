// Package main is the entry point for the handshake CLI.
package main

import (
	"os"

	"github.com/protocolos/handshake/cmd/handshake/app"
	"github.com/protocolos/handshake/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
