package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/protocolos/handshake/pkg/protocol"
)

var (
	authCredentialsFile string
	authStep            int
	authJSON            bool
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate [protocol-type]",
	Short: "Run one step of a protocol's authentication flow",
	Long: `Run one step of a protocol's authentication flow. Single-step protocols
complete immediately; redirect flows return an authorization URL on step 1
and expect the callback result merged into the credentials before step 3.`,
	Args: cobra.ExactArgs(1),
	RunE: authenticateCmdFunc,
}

func init() {
	authenticateCmd.Flags().StringVar(&authCredentialsFile, "credentials", "", "Path to a JSON credentials file")
	authenticateCmd.Flags().IntVar(&authStep, "step", 1, "Flow step to execute")
	authenticateCmd.Flags().BoolVar(&authJSON, "json", false, "Output as JSON")
	if err := authenticateCmd.MarkFlagRequired("credentials"); err != nil {
		panic(err)
	}
}

func authenticateCmdFunc(cmd *cobra.Command, args []string) error {
	module, err := resolveModule(args[0])
	if err != nil {
		return err
	}
	bag, err := loadCredentials(authCredentialsFile)
	if err != nil {
		return err
	}

	result := module.Authenticate(cmd.Context(), bag, authStep)
	if authJSON {
		return printJSON(result)
	}

	fmt.Printf("step %d/%d: %s\n", result.Step, result.TotalSteps, result.Title)
	if result.Description != "" {
		fmt.Println(result.Description)
	}
	switch result.Kind {
	case protocol.FlowRedirect:
		fmt.Printf("open this URL to continue:\n  %s\n", result.RedirectURL)
	case protocol.FlowComplete:
		if result.Token != nil {
			fmt.Println("authentication complete; merge the token into your credentials file:")
			return printJSON(result.Token.Fragment())
		}
		fmt.Println("authentication complete")
	case protocol.FlowError:
		return fmt.Errorf("%s: %s", result.ErrorCode, result.ErrorDetail)
	}
	return nil
}
