package cmd

import "github.com/spf13/cobra"

// Command is implemented by each subcommand package.
type Command interface {
	Register(parent *cobra.Command)
}
