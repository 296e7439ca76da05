package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/protocolos/handshake/pkg/protocol"
)

// loadCredentials reads a credential bag from a JSON file.
func loadCredentials(path string) (protocol.CredentialBag, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the path is an operator-supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var bag protocol.CredentialBag
	if err := json.Unmarshal(data, &bag); err != nil {
		return nil, fmt.Errorf("credentials file is not valid JSON: %w", err)
	}
	return bag, nil
}

// resolveModule looks the protocol type up in the registry.
func resolveModule(typeName string) (protocol.Module, error) {
	module, err := protocol.Resolve(protocol.Type(typeName))
	if err != nil {
		return nil, fmt.Errorf("%w (known types: %v)", err, protocol.Default().Types())
	}
	return module, nil
}

// printJSON renders a value as indented JSON on stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
