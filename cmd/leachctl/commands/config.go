package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective network schedule (round timing, election probability, queue bounds)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			u := &url.URL{Scheme: "http", Host: serverAddr, Path: "/debug/config"}

			resp, err := httpClient.Get(u.String())
			if err != nil {
				return fmt.Errorf("fetch config: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != 200 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("leachd returned %s: %s", resp.Status, body)
			}

			var raw map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
				return fmt.Errorf("decode config response: %w", err)
			}

			pretty, err := json.MarshalIndent(raw, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Println(string(pretty))

			return nil
		},
	}
}
