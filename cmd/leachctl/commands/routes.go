package commands

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes [node-address]",
		Short: "List registered nodes, or dump one node's routing table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			u := &url.URL{Scheme: "http", Host: serverAddr, Path: "/debug/routes"}
			if len(args) == 1 {
				q := u.Query()
				q.Set("node", args[0])
				u.RawQuery = q.Encode()
			}

			resp, err := httpClient.Get(u.String())
			if err != nil {
				return fmt.Errorf("fetch routes: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != 200 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("leachd returned %s: %s", resp.Status, body)
			}

			if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
				return fmt.Errorf("read routes response: %w", err)
			}

			return nil
		},
	}
}
