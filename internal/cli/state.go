package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage Alloyform state",
	Long:  `Commands for inspecting and modifying Alloyform state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func loadStateMgr() (state.Backend, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	evaluator := eval.NewEvaluator(wd)
	return openStateStore(wd, evaluator)
}

func runStateList(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		fmt.Printf("  %s (provider: %s)\n", addr, res.Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr == target {
			fmt.Printf("# %s\n", addr)
			fmt.Printf("  provider = %s\n", res.Provider)
			fmt.Printf("  type     = %s\n", res.Type)
			fmt.Printf("  name     = %s\n", res.Name)
			if res.Status != "" {
				fmt.Printf("  status   = %s\n", res.Status)
			}

			if len(res.Inputs) > 0 {
				fmt.Println("\n  Inputs:")
				for k, v := range res.Inputs {
					fmt.Printf("    %s = %v\n", k, v)
				}
			}

			if len(res.Outputs) > 0 {
				fmt.Println("\n  Outputs:")
				for k, v := range res.Outputs {
					fmt.Printf("    %s = %v\n", k, v)
				}
			}

			if len(res.Dependencies) > 0 {
				fmt.Println("\n  Dependencies:")
				for _, dep := range res.Dependencies {
					fmt.Printf("    %s\n", dep)
				}
			}

			if res.InputsHash != "" {
				fmt.Printf("\n  inputs_hash = %s\n", res.InputsHash)
			}

			return nil
		}
	}

	return fmt.Errorf("resource %s not found in state", target)
}

// splitAddress splits an address into type and name at the last dot.
// Resource types contain dots (e.g. google:AlloyDB.Cluster), the name is
// always the final segment.
func splitAddress(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ".")
	if idx <= 0 || idx == len(addr)-1 {
		return "", "", fmt.Errorf("invalid address %q, expected format type.name", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	src, dst := args[0], args[1]
	found := false

	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr == src {
			newType, newName, err := splitAddress(dst)
			if err != nil {
				return err
			}
			res.Type = newType
			res.Name = newName
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", src)
	}

	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	_ = writeAuditLog(AuditEntry{
		Operation: "state.mv",
		Changes:   []AuditChange{{Address: src, Action: "mv"}},
	})

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	newResources := make([]*ir.ResourceState, 0, len(s.Resources))
	found := false

	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr == target {
			found = true
			continue
		}
		newResources = append(newResources, res)
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", target)
	}

	s.Resources = newResources
	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	_ = writeAuditLog(AuditEntry{
		Operation: "state.rm",
		Changes:   []AuditChange{{Address: target, Action: "rm"}},
	})

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
