package cli

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/tidwall/gjson"
)

// newPluginsCommand lists plugins known to a running host.
func newPluginsCommand() *Command {
	cmd := &Command{
		Name:        "plugins",
		Description: "List plugins and their lifecycle states",
	}

	cmd.Run = func(args []string) error {
		flags := flag.NewFlagSet("plugins", flag.ExitOnError)
		addr := flags.String("addr", DefaultAddr, "Host debug address")
		filter := flags.String("filter", "all", "Filter: all, active or failed")
		if err := flags.Parse(args); err != nil {
			return err
		}

		body, err := fetch(*addr, "/api/v1/plugins?filter="+*filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tSTATE\tERROR")
		gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				item.Get("name").String(),
				item.Get("version").String(),
				item.Get("state").String(),
				item.Get("error").String(),
			)
			return true
		})
		return w.Flush()
	}

	return cmd
}

// newHealthCommand probes a running host's health endpoint.
func newHealthCommand() *Command {
	cmd := &Command{
		Name:        "health",
		Description: "Check that the host is up",
	}

	cmd.Run = func(args []string) error {
		flags := flag.NewFlagSet("health", flag.ExitOnError)
		addr := flags.String("addr", DefaultAddr, "Host debug address")
		if err := flags.Parse(args); err != nil {
			return err
		}

		body, err := fetch(*addr, "/healthz")
		if err != nil {
			return err
		}

		fmt.Printf("status: %s\n", gjson.GetBytes(body, "status").String())
		return nil
	}

	return cmd
}

func fetch(addr, path string) ([]byte, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return nil, fmt.Errorf("cannot reach host at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("host returned %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}
