package cli

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/secrets"
)

// newSecretCommand manages API keys in the OS keyring. It operates on the
// keyring directly, so it works whether or not the host is running.
func newSecretCommand() *Command {
	cmd := &Command{
		Name:        "secret",
		Description: "Manage service API keys (set, get, delete)",
		Subcommands: make(map[string]*Command),
	}

	store := func() *secrets.Store {
		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		return secrets.NewStore(secrets.ServiceName, log)
	}

	cmd.Subcommands["set"] = &Command{
		Name:        "set",
		Description: "Store an API key for a plugin",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("secret set", flag.ExitOnError)
			if err := flags.Parse(args); err != nil {
				return err
			}
			if flags.NArg() != 1 {
				return fmt.Errorf("usage: arrdeckctl secret set <plugin>")
			}
			name := flags.Arg(0)

			fmt.Fprintf(os.Stderr, "API key for %s: ", name)
			reader := bufio.NewReader(os.Stdin)
			key, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("could not read key: %w", err)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("empty key")
			}

			return store().Set(name, key)
		},
	}

	cmd.Subcommands["get"] = &Command{
		Name:        "get",
		Description: "Print a plugin's stored API key",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: arrdeckctl secret get <plugin>")
			}
			key, err := store().Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}

	cmd.Subcommands["delete"] = &Command{
		Name:        "delete",
		Description: "Remove a plugin's stored API key",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: arrdeckctl secret delete <plugin>")
			}
			return store().Delete(args[0])
		},
	}

	cmd.Run = func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("usage: arrdeckctl secret <set|get|delete> <plugin>")
		}
		if sub, ok := cmd.Subcommands[args[0]]; ok {
			return sub.Run(args[1:])
		}
		return fmt.Errorf("unknown secret command: %s", args[0])
	}

	return cmd
}
