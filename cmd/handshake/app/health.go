package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthCredentialsFile string
	healthJSON            bool
)

var healthCmd = &cobra.Command{
	Use:   "health [protocol-type]",
	Short: "Check credential and endpoint health for a protocol",
	Args:  cobra.ExactArgs(1),
	RunE:  healthCmdFunc,
}

func init() {
	healthCmd.Flags().StringVar(&healthCredentialsFile, "credentials", "", "Path to a JSON credentials file")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
	if err := healthCmd.MarkFlagRequired("credentials"); err != nil {
		panic(err)
	}
}

func healthCmdFunc(cmd *cobra.Command, args []string) error {
	module, err := resolveModule(args[0])
	if err != nil {
		return err
	}
	bag, err := loadCredentials(healthCredentialsFile)
	if err != nil {
		return err
	}

	status := module.HealthCheck(cmd.Context(), bag)
	if healthJSON {
		return printJSON(status)
	}

	fmt.Printf("token: %s\n%s\n", status.TokenStatus, status.Message)
	if status.Latency > 0 {
		fmt.Printf("latency: %s\n", status.Latency.Round(time.Millisecond))
	}
	if !status.Healthy {
		return fmt.Errorf("unhealthy")
	}
	return nil
}
