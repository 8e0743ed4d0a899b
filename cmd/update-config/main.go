// Command update-config refreshes the local Tinfoil model map from its
// upstream source, overwriting the YAML file pkg/config reads on first
// use. Redpill has no equivalent static config: its model list is
// fetched live from the Redpill API at request time.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
)

const tinfoilConfigURL = "https://raw.githubusercontent.com/tinfoilsh/confidential-model-router/refs/heads/main/config.yml"

func main() {
	app := &cli.App{
		Name:  "update-config",
		Usage: "Refresh the Tinfoil model-map config from upstream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tinfoil-config", Value: "config/tinfoil_config.yml", Usage: "Destination path for the Tinfoil model map"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("update-config: %v", err)
	}
}

func run(c *cli.Context) error {
	client := &http.Client{Timeout: 30 * time.Second}
	return updateConfig(client, tinfoilConfigURL, c.String("tinfoil-config"))
}

func updateConfig(client *http.Client, url, path string) error {
	fmt.Printf("Updating configuration from %s...\n", url)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}

	fmt.Printf("Successfully updated configuration to %s\n", path)
	return nil
}
