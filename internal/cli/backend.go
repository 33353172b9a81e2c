package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/state"
)

// backendConfigFile is where the project's state backend is recorded,
// relative to the working directory. Written by `alloyform init --backend`.
func backendConfigFile(wd string) string {
	return filepath.Join(wd, alloyformDir(), "backend.json")
}

// loadBackendConfig reads the project's backend configuration. A missing
// file means local state.
func loadBackendConfig(wd string) (*state.BackendConfig, error) {
	raw, err := os.ReadFile(backendConfigFile(wd))
	if err != nil {
		if os.IsNotExist(err) {
			return &state.BackendConfig{Type: "local"}, nil
		}
		return nil, fmt.Errorf("failed to read backend configuration: %w", err)
	}

	var cfg state.BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend configuration: %w", err)
	}
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	return &cfg, nil
}

// writeBackendConfig records the backend selection for the project.
func writeBackendConfig(wd string, cfg *state.BackendConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backend configuration: %w", err)
	}
	path := backendConfigFile(wd)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", alloyformDir(), err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write backend configuration: %w", err)
	}
	return nil
}

// openStateStore returns the state store the project is configured for: an
// s3 or gcs backend when one is recorded, the workspace-local state file
// otherwise.
func openStateStore(wd string, evaluator *eval.Evaluator) (state.Backend, error) {
	cfg, err := loadBackendConfig(wd)
	if err != nil {
		return nil, err
	}
	if cfg.Type == "local" {
		return state.NewManager(filepath.Join(wd, WorkspaceStatePath()), evaluator), nil
	}
	return state.NewBackend(cfg, evaluator)
}
