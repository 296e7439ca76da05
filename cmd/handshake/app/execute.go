package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/protocolos/handshake/pkg/protocol"
)

var (
	execCredentialsFile string
	execMethod          string
	execBody            string
	execHeaders         []string
	execTimeout         time.Duration
	execJSON            bool
)

var executeCmd = &cobra.Command{
	Use:   "execute [protocol-type] [url]",
	Short: "Execute an authenticated request against an endpoint",
	Args:  cobra.ExactArgs(2),
	RunE:  executeCmdFunc,
}

func init() {
	executeCmd.Flags().StringVar(&execCredentialsFile, "credentials", "", "Path to a JSON credentials file")
	executeCmd.Flags().StringVar(&execMethod, "method", "GET", "HTTP method")
	executeCmd.Flags().StringVar(&execBody, "body", "", "Request body (raw string)")
	executeCmd.Flags().StringArrayVar(&execHeaders, "header", nil, "Request header as key=value, repeatable")
	executeCmd.Flags().DurationVar(&execTimeout, "timeout", 30*time.Second, "Request timeout")
	executeCmd.Flags().BoolVar(&execJSON, "json", false, "Output the full result as JSON")
	if err := executeCmd.MarkFlagRequired("credentials"); err != nil {
		panic(err)
	}
}

func executeCmdFunc(cmd *cobra.Command, args []string) error {
	module, err := resolveModule(args[0])
	if err != nil {
		return err
	}
	bag, err := loadCredentials(execCredentialsFile)
	if err != nil {
		return err
	}

	headers := make(map[string]string, len(execHeaders))
	for _, h := range execHeaders {
		key, value, found := strings.Cut(h, "=")
		if !found {
			return fmt.Errorf("malformed header %q: expected key=value", h)
		}
		headers[key] = value
	}

	execCtx := &protocol.ExecutionContext{
		URL:         args[1],
		Method:      execMethod,
		Headers:     headers,
		Credentials: bag,
		Timeout:     execTimeout,
	}
	if execBody != "" {
		execCtx.Body = execBody
	}

	result := module.ExecuteRequest(cmd.Context(), execCtx)
	if execJSON {
		return printJSON(result)
	}

	if !result.Success {
		return fmt.Errorf("%s: %s (HTTP %d)", result.ErrorCode, result.ErrorMessage, result.StatusCode)
	}
	fmt.Printf("HTTP %d in %s\n", result.StatusCode, result.Duration.Round(time.Millisecond))
	if result.TokensRefreshed {
		fmt.Println("tokens were refreshed during this call; persist the updated credentials")
	}
	if result.Body != nil {
		return printJSON(result.Body)
	}
	fmt.Println(result.RawBody)
	return nil
}
