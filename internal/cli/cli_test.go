package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/state"
)

func TestFormatPkl(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trailing whitespace",
			input:    "name = \"test\"   \ntype = \"foo\"  \n",
			expected: "name = \"test\"\ntype = \"foo\"\n",
		},
		{
			name:     "ensure trailing newline",
			input:    "name = \"test\"",
			expected: "name = \"test\"\n",
		},
		{
			name:     "collapse blank lines",
			input:    "a = 1\n\n\n\nb = 2\n",
			expected: "a = 1\n\nb = 2\n",
		},
		{
			name:     "already formatted",
			input:    "a = 1\nb = 2\n",
			expected: "a = 1\nb = 2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatPkl(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestColorize(t *testing.T) {
	// When noColor is false, colorize should return the code
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	// When noColor is true, colorize should return empty string
	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	// Reset
	noColor = false
}

func TestCurrentWorkspace(t *testing.T) {
	// When no workspace file exists, should return "default"
	t.Chdir(t.TempDir())
	ws := currentWorkspace()
	assert.Equal(t, "default", ws)
}

func TestWorkspaceStatePath(t *testing.T) {
	// Default workspace uses state.pkl
	t.Chdir(t.TempDir())
	path := WorkspaceStatePath()
	assert.Equal(t, ".alloyform/state.pkl", path)
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		addr    string
		resType string
		name    string
		wantErr bool
	}{
		{addr: "null_resource.example", resType: "null_resource", name: "example"},
		{addr: "google:AlloyDB.Cluster.primary", resType: "google:AlloyDB.Cluster", name: "primary"},
		{addr: "google:Compute.Network.vpc", resType: "google:Compute.Network", name: "vpc"},
		{addr: "nodots", wantErr: true},
		{addr: "trailing.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			resType, name, err := splitAddress(tt.addr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.resType, resType)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestActionSymbol(t *testing.T) {
	assert.Equal(t, "+", actionSymbol("create"))
	assert.Equal(t, "-", actionSymbol("delete"))
	assert.Equal(t, "-/+", actionSymbol("replace"))
	assert.Equal(t, "~", actionSymbol("update"))
	assert.Equal(t, " ", actionSymbol("noop"))
}

func TestEmptyStateContent(t *testing.T) {
	content := emptyStateContent("abc-123")
	assert.Contains(t, content, "version = 1")
	assert.Contains(t, content, "serial = 0")
	assert.Contains(t, content, `lineage = "abc-123"`)
	assert.Contains(t, content, "resources = new Listing {}")
	assert.Contains(t, content, "outputs = new Mapping {}")
}

func TestBackendConfigDefaultsToLocal(t *testing.T) {
	wd := t.TempDir()

	cfg, err := loadBackendConfig(wd)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Type)

	store, err := openStateStore(wd, eval.NewEvaluator(wd))
	require.NoError(t, err)
	_, ok := store.(*state.Manager)
	assert.True(t, ok, "no backend file means workspace-local state")
}

func TestBackendConfigRoundTrip(t *testing.T) {
	wd := t.TempDir()

	in := &state.BackendConfig{
		Type:   "gcs",
		Config: map[string]string{"bucket": "alloyform-state", "prefix": "prod"},
	}
	require.NoError(t, writeBackendConfig(wd, in))

	out, err := loadBackendConfig(wd)
	require.NoError(t, err)
	assert.Equal(t, "gcs", out.Type)
	assert.Equal(t, "alloyform-state", out.Config["bucket"])
	assert.Equal(t, "prod", out.Config["prefix"])
}

func TestExternalPropertyFlags(t *testing.T) {
	// Variables reach the Pkl evaluator as external properties, so both
	// planning commands must accept them.
	for _, cmd := range []string{"plan", "apply"} {
		t.Run(cmd, func(t *testing.T) {
			sub, _, err := rootCmd.Find([]string{cmd})
			require.NoError(t, err)
			flag := sub.Flags().Lookup("prop")
			require.NotNil(t, flag)
			assert.Equal(t, "D", flag.Shorthand)
		})
	}
}

func TestOpenStateStoreRejectsUnknownBackend(t *testing.T) {
	wd := t.TempDir()
	require.NoError(t, writeBackendConfig(wd, &state.BackendConfig{Type: "consul"}))

	_, err := openStateStore(wd, eval.NewEvaluator(wd))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}
