package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/engine"
	"github.com/alloyform-io/alloyform/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  alloyform graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProjectDir(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	evaluator := eval.NewEvaluator(wd)

	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Resources = engine.ExpandForEach(cfg.Resources)
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph alloyform {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range cfg.Resources {
		addr := engine.ResourceAddrPublic(res)
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, res := range cfg.Resources {
		addr := engine.ResourceAddrPublic(res)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
