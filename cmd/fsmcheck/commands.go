package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/librescoot/asyncfsm/chartfile"
)

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "fsmcheck",
		Short:         "Check state machine chart files",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCommand(logger))
	root.AddCommand(newDotCommand())

	return root
}

func newValidateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate chart files",
		Long: `Validate chart files.

This command checks:
  - YAML structure and required fields
  - Duration literals
  - Duplicate handlers and undeclared states
  - Reachability of every state from the initial state`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := checkFile(path); err != nil {
					return err
				}
				logger.Info("chart valid", "path", path)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			return nil
		},
	}
}

func newDotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dot <file>",
		Short: "Print the transition graph of a chart file in Graphviz DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := chartfile.Load(args[0])
			if err != nil {
				return err
			}
			def := chartfile.Skeleton(doc)
			if err := def.Validate(); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), def.Graph().DOT(doc.Name))
			return nil
		},
	}
}

func checkFile(path string) error {
	doc, err := chartfile.Load(path)
	if err != nil {
		return err
	}
	if _, err := chartfile.Skeleton(doc).Build(doc.Options()...); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
