package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/cmd/cli/commands"
	"github.com/inferloop/aimguard/pkg/constants"
)

func main() {
	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Aim-rotation anomaly classifier CLI",
		Long: `A command-line interface for training, checking and inspecting the
BiLSTM classifier that flags cheating from yaw/pitch aim sequences.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return global.Init()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&global.ConfigFile, "config", "", "config file (default is $HOME/.aimguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&global.LogFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "verbose output")

	// Add commands
	rootCmd.AddCommand(commands.NewTrainCmd(global))
	rootCmd.AddCommand(commands.NewCheckCmd(global))
	rootCmd.AddCommand(commands.NewLearnCmd(global))
	rootCmd.AddCommand(commands.NewInfoCmd(global))
	rootCmd.AddCommand(commands.NewDatasetCmd(global))
	rootCmd.AddCommand(commands.NewGenerateCmd(global))
	rootCmd.AddCommand(commands.NewConfigCmd(global))

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
