// Package cmd implements the flux-capacitor command line.
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/applab-nl/flux-capacitor/internal/cmd/config"
	"github.com/applab-nl/flux-capacitor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "flux-capacitor",
	Short: "Parallel coding-agent sessions in git worktrees",
	Long: `flux-capacitor creates git worktrees, launches coding-agent sessions in
tmux panes inside them, and tracks both across restarts.

Run 'flux-capacitor serve' to expose the operations as tools over stdio,
or use the worktree and session commands directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// jsonOutput selects machine-readable output for every command.
var jsonOutput bool

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/flux-capacitor/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	cmdconfig.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLUX")
	// e.g., FLUX_SESSION_LAUNCH_TIMEOUT for session.launch_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.BindLegacyEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
