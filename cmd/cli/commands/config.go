package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inferloop/aimguard/cmd/cli/config"
)

func NewConfigCmd(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the CLI configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = "yaml"
			}
			return global.writeOutput(format, global.Config, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%+v\n", *global.Config)
				return err
			})
		},
	}
	show.Flags().StringVar(&format, "format", "", "Output format (yaml, json)")

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if !force && fileExists(path) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(global.Out, "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "output", "o", "", "Config file path (default is $HOME/.aimguard/config.yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
