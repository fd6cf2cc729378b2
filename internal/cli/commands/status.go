package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcarvalho/stackwizard/internal/api"
)

var (
	statusServerURL string
)

func init() {
	statusCmd.Flags().StringVar(&statusServerURL, "server", "http://localhost:3000", "stackwizard server URL")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the wizard state of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}

		resp, err := client.Get(statusServerURL + "/api/v1/deployment/status")
		if err != nil {
			return fmt.Errorf("query server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		var status api.DeploymentStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		cmd.Printf("Step: %s\n", status.Step)
		if status.Record != nil {
			cmd.Printf("Deployment: %s\n", status.Record.Name)
			cmd.Printf("Path: %s\n", status.Record.Path)
			if status.Record.IsRollingBack {
				cmd.Println("Rolling back: yes")
			}
		}
		if status.RunStatus != nil {
			cmd.Printf("Running: %v\n", status.RunStatus.Running)
			if status.RunStatus.Command != "" {
				cmd.Printf("Command: %s\n", status.RunStatus.Command)
			}
		}

		return nil
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the available infrastructure templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		for _, tpl := range rt.catalog.List() {
			cmd.Printf("%-20s %-8s %s\n", tpl.ID, tpl.Cloud, tpl.Name)
			for _, v := range tpl.Variables {
				required := ""
				if v.Required {
					required = " (required)"
				}
				cmd.Printf("    var %s%s\n", v.Name, required)
			}
			for _, addOn := range tpl.AddOns {
				cmd.Printf("    add-on %s: %s\n", addOn.ID, addOn.Name)
			}
		}

		return nil
	},
}
