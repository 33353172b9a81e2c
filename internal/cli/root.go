package cli

import (
	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/logging"
)

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "alloyform",
	Short: "Declarative AlloyDB infrastructure provisioning",
	Long: `Alloyform provisions Google Cloud infrastructure for AlloyDB-backed
applications from Pkl declarations.

It provides:
  • Type-safe resource declarations with ptr:// cross-references
  • Dependency-ordered plan and apply with per-resource outcomes
  • Encrypted, human-readable Pkl state files
  • Local, GCS, and S3 state backends`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// colorize returns the ANSI code unless color output is disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(demoCmd)
}
