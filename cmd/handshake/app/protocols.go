package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/protocolos/handshake/pkg/protocol"
)

var protocolsJSON bool

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List the registered protocol types",
	RunE:  protocolsCmdFunc,
}

func init() {
	protocolsCmd.Flags().BoolVar(&protocolsJSON, "json", false, "Output as JSON")
}

func protocolsCmdFunc(cmd *cobra.Command, _ []string) error {
	registry := protocol.Default()

	if protocolsJSON {
		entries := make([]protocol.Metadata, 0)
		for _, t := range registry.Types() {
			module, err := registry.Resolve(t)
			if err != nil {
				return err
			}
			entries = append(entries, module.Metadata())
		}
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tDEPRECATED\tDESCRIPTION")
	for _, t := range registry.Types() {
		module, err := registry.Resolve(t)
		if err != nil {
			return err
		}
		meta := module.Metadata()
		deprecated := ""
		if meta.Deprecated {
			deprecated = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", meta.Type, meta.DisplayName, deprecated, meta.Description)
	}
	return w.Flush()
}
