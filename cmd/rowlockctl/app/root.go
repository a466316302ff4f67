// Package app wires rowlockctl's cobra command tree, in the same
// RootCommand shape the retrieved pack uses for its own server binary.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type Options struct {
	ConfigPath string
}

type RootCommand struct {
	*cobra.Command
	Options Options
}

func Init(name string) *RootCommand {
	cmd := &RootCommand{
		Command: &cobra.Command{
			Use: name,
		},
	}
	cmd.initFlags()
	return cmd
}

func (c *RootCommand) initFlags() {
	c.PersistentFlags().StringVarP(
		&c.Options.ConfigPath,
		"config",
		"c",
		"",
		"Path to the .env configuration file",
	)
}

func (c *RootCommand) Execute(ctx context.Context) error {
	return c.ExecuteContext(ctx)
}

func (c *RootCommand) MustExecute(ctx context.Context) {
	if err := c.Execute(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rowlockctl failed: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = Init("rowlockctl")

func MustExecute(ctx context.Context) {
	initDemo()
	initStatus()
	rootCmd.MustExecute(ctx)
}
