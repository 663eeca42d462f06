package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Answer questions about a document with retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAskCommand(opts))

	return cmd
}
