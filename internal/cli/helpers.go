package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/provider"
)

// resolveProjectDir determines the project directory and entry point from an
// optional path argument. A directory argument selects main.pkl inside it; a
// file argument is used directly.
func resolveProjectDir(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}

		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}

	return wd, entryPoint, nil
}

// loadRequiredProviders auto-loads all providers referenced by config resources.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// loadStateProviders auto-loads all providers referenced by state resources (needed for delete).
func loadStateProviders(registry *provider.Registry, state *ir.State) error {
	seen := make(map[string]bool)
	for _, res := range state.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

func actionSymbol(action string) string {
	switch action {
	case "create":
		return "+"
	case "delete":
		return "-"
	case "replace":
		return "-/+"
	case "noop":
		return " "
	default:
		return "~"
	}
}

func actionColor(action string) string {
	switch action {
	case "create":
		return colorize("\033[32m")
	case "delete":
		return colorize("\033[31m")
	case "update", "replace":
		return colorize("\033[33m")
	default:
		return colorize("\033[0m")
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := actionSymbol(change.Action)
		color := actionColor(change.Action)
		reset := colorize("\033[0m")

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %sd%s\n", color, change.Address, change.Action, reset)
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)

		if len(change.Diff) > 0 {
			renderPropertyDiff(change, color)
		} else if change.Action == "create" && change.Desired != nil {
			for k, v := range change.Desired.Properties {
				fmt.Printf("%s      + %s = %v\n", color, k, formatValue(v))
			}
		} else if change.Action == "delete" && change.Prior != nil {
			for k, v := range change.Prior.Properties {
				fmt.Printf("%s      - %s = %v\n", color, k, formatValue(v))
			}
		} else {
			fmt.Printf("%s      ...\n", color)
		}
		fmt.Printf("%s    }%s\n", color, reset)
	}
}

// renderPropertyDiff prints structured property diffs.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	reset := colorize("\033[0m")
	for key, diff := range change.Diff {
		switch diff.Action {
		case "create":
			fmt.Printf("%s      + %s = %v%s\n", colorize("\033[32m"), key, formatValue(diff.After), reset)
		case "delete":
			fmt.Printf("%s      - %s = %v%s\n", colorize("\033[31m"), key, formatValue(diff.Before), reset)
		case "update":
			fmt.Printf("%s      ~ %s = %v -> %v%s\n", colorize("\033[33m"), key, formatValue(diff.Before), formatValue(diff.After), reset)
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderApplyReport prints the per-resource outcome of an apply run.
func renderApplyReport(report *ir.ApplyReport) {
	if report == nil || len(report.Results) == 0 {
		return
	}

	fmt.Println("\nResource outcomes:")
	for _, res := range report.Results {
		reset := colorize("\033[0m")
		var color string
		switch res.Outcome {
		case ir.ResultCreated, ir.ResultUpdated, ir.ResultDeleted:
			color = colorize("\033[32m")
		case ir.ResultFailed, ir.ResultUnknown:
			color = colorize("\033[31m")
		case ir.ResultSkipped:
			color = colorize("\033[33m")
		default:
			color = reset
		}

		fmt.Printf("  %s%-10s%s %s", color, res.Outcome, reset, res.Address)
		if res.Err != nil {
			fmt.Printf(" (%v)", res.Err)
		}
		fmt.Println()
	}
}
