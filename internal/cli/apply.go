package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/engine"
	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/provider"
)

var (
	applyAutoApprove     bool
	applyAllowReplace    bool
	applyContinueOnError bool
	applyTargets         []string
	applyProperties      map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Builds or changes infrastructure according to Alloyform declaration files.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().BoolVar(&applyAllowReplace, "replace", false, "Allow destroy-and-recreate of resources whose immutable attributes changed")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Continue applying unrelated resources after a failure")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to the given resource addresses (plus their dependencies)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProjectDir(args)
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
	eng.AllowReplace = applyAllowReplace
	eng.ContinueOnError = applyContinueOnError
	// Persist state after every resource transition so a crash mid-run
	// loses at most the in-flight resource.
	eng.Checkpoint = func(s *ir.State) error {
		return stateMgr.Write(ctx, s)
	}

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	// Providers for resources already in state are needed for deletes.
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, applyTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nAlloyform will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, report, applyErr := eng.ApplyPlan(ctx, plan, currentState)

	renderApplyReport(report)
	auditApply("apply", plan, report, applyErr)

	// The engine checkpoints after every transition; the final write keeps
	// serial and outputs consistent even when individual resources failed.
	if newState != nil {
		if err := stateMgr.Write(ctx, newState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Println("\nApply complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.", plan.Summary.Create+plan.Summary.Replace, plan.Summary.Update, plan.Summary.Delete))

	if len(plan.Outputs) > 0 {
		values, failures := engine.ProjectOutputs(plan.Outputs, newState)
		fmt.Println("\nOutputs:")
		for k, v := range values {
			fmt.Printf("  %s = %v\n", k, v)
		}
		for k, err := range failures {
			fmt.Printf("  %s = (unavailable: %v)\n", k, err)
		}
	}

	return nil
}

// auditApply records an apply or destroy run in the audit log.
func auditApply(operation string, plan *ir.Plan, report *ir.ApplyReport, applyErr error) {
	entry := AuditEntry{Operation: operation}
	if report != nil {
		summary := make(map[string]int)
		for _, res := range report.Results {
			entry.Changes = append(entry.Changes, AuditChange{
				Address: res.Address,
				Action:  res.Action,
			})
			summary[res.Outcome]++
		}
		entry.Summary = summary
	}
	if applyErr != nil {
		entry.Error = applyErr.Error()
	}
	_ = writeAuditLog(entry)
}
