package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/provider"
	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current state of all managed resources from their providers
and updates the state file to reflect actual infrastructure.

This detects drift, and resolves resources left in an unknown state by a
previous run that timed out mid-apply.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProjectDir(nil)
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

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Reading state... ")
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to refresh.")
		return nil
	}

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(currentState.Resources))

	drifted := 0
	deleted := 0
	reconciled := 0
	remaining := make([]*ir.ResourceState, 0, len(currentState.Resources))

	for _, res := range currentState.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		prov, err := registry.Get(res.Provider)
		if err != nil {
			fmt.Printf("  %s: SKIP (provider %s not available)\n", addr, res.Provider)
			remaining = append(remaining, res)
			continue
		}

		var priorJSON []byte
		if res.Outputs != nil {
			priorJSON, _ = json.Marshal(res.Outputs)
		}

		resp, err := prov.Read(ctx, &sdk.ReadRequest{
			ResourceType:   res.Type,
			ResourceName:   res.Name,
			PriorStateJson: priorJSON,
		})
		if err != nil {
			fmt.Printf("  %s: ERROR (%v)\n", addr, err)
			remaining = append(remaining, res)
			continue
		}

		if !resp.Exists {
			fmt.Printf("  %s%s: DELETED (no longer exists in provider)%s\n", colorize("\033[31m"), addr, colorize("\033[0m"))
			deleted++
			continue
		}

		wasUnknown := res.Status == ir.StatusUnknown
		res.Status = ""

		if len(resp.CurrentStateJson) > 0 {
			var newOutputs map[string]any
			if err := json.Unmarshal(resp.CurrentStateJson, &newOutputs); err == nil {
				if fmt.Sprintf("%v", newOutputs) != fmt.Sprintf("%v", res.Outputs) {
					fmt.Printf("  %s%s: DRIFTED (state updated)%s\n", colorize("\033[33m"), addr, colorize("\033[0m"))
					res.Outputs = newOutputs
					drifted++
				} else if wasUnknown {
					fmt.Printf("  %s: RECONCILED (outcome confirmed)\n", addr)
					reconciled++
				} else {
					fmt.Printf("  %s: OK\n", addr)
				}
			}
		} else if wasUnknown {
			fmt.Printf("  %s: RECONCILED (outcome confirmed)\n", addr)
			reconciled++
		} else {
			fmt.Printf("  %s: OK\n", addr)
		}

		remaining = append(remaining, res)
	}

	if drifted > 0 || deleted > 0 || reconciled > 0 {
		currentState.Resources = remaining
		currentState.Serial++
		if err := stateMgr.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d deleted, %d reconciled.\n", drifted, deleted, reconciled)
	return nil
}
