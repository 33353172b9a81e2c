package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/state"
)

var (
	initBackend       string
	initBackendConfig map[string]string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Alloyform project",
	Long: `Creates a new Alloyform project with default declaration files.

State is kept in a local file unless --backend selects a remote store:

  alloyform init --backend gcs --backend-config bucket=my-state-bucket
  alloyform init --backend s3 --backend-config bucket=my-state-bucket,region=us-east-1`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", "", "state backend: local, s3, or gcs")
	initCmd.Flags().StringToStringVar(&initBackendConfig, "backend-config", nil, "backend settings as key=value pairs")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(alloyformDir(), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", alloyformDir(), err)
	}

	if initBackend != "" {
		switch initBackend {
		case "local", "s3", "gcs":
		default:
			return fmt.Errorf("unknown backend type: %s (expected local, s3, or gcs)", initBackend)
		}
		cfg := &state.BackendConfig{Type: initBackend, Config: initBackendConfig}
		if err := writeBackendConfig(".", cfg); err != nil {
			return err
		}
		fmt.Printf("Configured %s state backend\n", initBackend)
	}

	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// Alloyform declarations

resources = new Listing {
  // Add your resources here, e.g.:
  //
  // new Dynamic {
  //   type = "google:Compute.Network"
  //   name = "vpc"
  //   provider = "google"
  //   properties = new Mapping {
  //     ["project"] = "my-project"
  //     ["autoCreateSubnetworks"] = false
  //   }
  // }
}

outputs = new Mapping {
  // Add your outputs here, e.g.:
  // ["network_self_link"] = "ptr://google:Compute.Network/vpc/selfLink"
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	statePath := filepath.Join(alloyformDir(), "state.pkl")
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		content := emptyStateContent("")
		if err := os.WriteFile(statePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", statePath)
	}

	fmt.Println("\nAlloyform initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to declare your infrastructure")
	fmt.Println("  2. Run 'alloyform plan' to see what will be created")
	fmt.Println("  3. Run 'alloyform apply' to create your infrastructure")

	return nil
}

// emptyStateContent renders a fresh state file with an optional lineage.
func emptyStateContent(lineage string) string {
	return fmt.Sprintf(`// Alloyform state file. Do not edit by hand.

version = 1
serial = 0
lineage = %q

outputs = new Mapping {}

resources = new Listing {}
`, lineage)
}
