package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCredentialsFile string

var validateCmd = &cobra.Command{
	Use:   "validate [protocol-type]",
	Short: "Validate a credential bag against a protocol's field definitions",
	Args:  cobra.ExactArgs(1),
	RunE:  validateCmdFunc,
}

func init() {
	validateCmd.Flags().StringVar(&validateCredentialsFile, "credentials", "", "Path to a JSON credentials file")
	if err := validateCmd.MarkFlagRequired("credentials"); err != nil {
		panic(err)
	}
}

func validateCmdFunc(_ *cobra.Command, args []string) error {
	module, err := resolveModule(args[0])
	if err != nil {
		return err
	}
	bag, err := loadCredentials(validateCredentialsFile)
	if err != nil {
		return err
	}

	result := module.ValidateCredentials(bag)
	if result.Valid {
		fmt.Println("credentials are valid")
		return nil
	}

	fmt.Println("credentials are invalid:")
	for field, msg := range result.FieldErrors {
		fmt.Printf("  %s: %s\n", field, msg)
	}
	return fmt.Errorf("validation failed")
}
