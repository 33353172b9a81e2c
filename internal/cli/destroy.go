package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/engine"
	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys all resources tracked in the state file, in reverse
dependency order. This is the inverse of 'alloyform apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProjectDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := openStateStore(wd, evaluator)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()

	eng := engine.NewEngine(registry)
	eng.Checkpoint = func(s *ir.State) error {
		return stateMgr.Write(ctx, s)
	}

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to destroy.")
		return nil
	}

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	// Planning against an empty configuration turns every tracked resource
	// into a delete.
	fmt.Print("Calculating destroy plan... ")
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nAlloyform will destroy the following resources:")
	renderPlanChanges(plan)
	fmt.Printf("\n%d resource(s) will be destroyed.\n", plan.Summary.Delete)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resource(s)...\n", len(plan.Changes))

	newState, report, applyErr := eng.ApplyPlan(ctx, plan, currentState)

	renderApplyReport(report)
	auditApply("destroy", plan, report, applyErr)

	if newState != nil {
		if err := stateMgr.Write(ctx, newState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Printf("\nDestroy complete! %d resource(s) deleted.\n", plan.Summary.Delete)
	return nil
}
