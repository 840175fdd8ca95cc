// Package cli implements the arrdeckctl admin commands. They talk to a
// running host's debug endpoint, except the secret commands which go to
// the OS keyring directly.
package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

// DefaultAddr is the debug endpoint the commands target unless -addr is
// given. Matches the host's ARRDECK_DEBUG_ADDR default.
const DefaultAddr = "127.0.0.1:9090"

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "arrdeckctl",
		Description: "arrdeck host administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("arrdeckctl", flag.ExitOnError),
	}

	root.Subcommands["plugins"] = newPluginsCommand()
	root.Subcommands["health"] = newHealthCommand()
	root.Subcommands["secret"] = newSecretCommand()

	return root
}

// Execute runs the command
func (c *Command) Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
