package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/eval"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate Pkl declaration files",
	Long:  `Validates the syntax and types of the Pkl declaration files.`,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProjectDir(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	if _, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}
