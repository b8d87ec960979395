package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/noderegistry/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init [path]",
			Short: "Write a default configuration file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := config.FileName
				if len(args) == 1 {
					path = args[0]
				}
				if err := config.WriteDefault(path); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "wrote %s\n", path)
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Long: `Print the effective configuration after merging defaults, the config
file, environment variables and flags.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printYAML(a.out, a.cfg)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := a.cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				_, err := fmt.Fprintln(a.out, "configuration is valid")
				return err
			},
		},
	)
	return cmd
}
