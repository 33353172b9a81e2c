package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/engine"
	"github.com/alloyform-io/alloyform/internal/eval"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values projected from state",
	Long: `Projects the declared outputs against applied state.

Each output is evaluated independently: an output whose referenced
resource was never applied is reported as unavailable while the others
still resolve. If a name is given, only that output is printed.`,
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
}

func runOutput(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := openStateStore(wd, evaluator)
	if err != nil {
		return err
	}

	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	values, failures := engine.ProjectOutputs(cfg.Outputs, s)

	if len(args) > 0 {
		name := args[0]
		if err, failed := failures[name]; failed {
			return fmt.Errorf("output %q is unavailable: %w", name, err)
		}
		val, ok := values[name]
		if !ok {
			return fmt.Errorf("output %q not found", name)
		}
		if outputJSON {
			data, _ := json.Marshal(val)
			fmt.Println(string(data))
		} else {
			fmt.Println(val)
		}
		return nil
	}

	if len(values) == 0 && len(failures) == 0 {
		fmt.Println("No outputs defined.")
		return nil
	}

	if outputJSON {
		data, _ := json.MarshalIndent(values, "", "  ")
		fmt.Println(string(data))
	} else {
		for k, v := range values {
			fmt.Printf("%s = %v\n", k, v)
		}
	}

	for k, err := range failures {
		fmt.Printf("%s = (unavailable: %v)\n", k, err)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d output(s) unavailable", len(failures))
	}
	return nil
}
