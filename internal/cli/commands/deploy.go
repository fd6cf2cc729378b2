package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
)

var (
	deployCloud       string
	deployName        string
	deployVars        []string
	deployAddOns      []string
	deployAutoApprove bool
)

func init() {
	deployCmd.Flags().StringVar(&deployCloud, "cloud", "", "cloud provider (aws, azure, gcp)")
	deployCmd.Flags().StringVar(&deployName, "name", "", "deployment name prefix")
	deployCmd.Flags().StringArrayVar(&deployVars, "var", nil, "template variable as key=value (repeatable)")
	deployCmd.Flags().StringArrayVar(&deployAddOns, "add-on", nil, "template add-on to include (repeatable)")
	deployCmd.Flags().BoolVar(&deployAutoApprove, "auto-approve", false, "apply without asking for plan confirmation")
}

var deployCmd = &cobra.Command{
	Use:   "deploy <template-id>",
	Short: "Deploy infrastructure from a template",
	Long:  `Deploy infrastructure by rendering a template, running init and plan, reviewing the plan, and applying it. Cloud credentials are taken from the environment.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.orch.Dispose()

		templateID := args[0]

		values, err := parseVars(deployVars)
		if err != nil {
			return err
		}

		tpl, err := rt.catalog.Get(templateID)
		if err != nil {
			return err
		}
		cloud := deployCloud
		if cloud == "" {
			cloud = tpl.Cloud
		}

		files, vars, err := rt.catalog.Render(templateID, values, deployAddOns)
		if err != nil {
			return err
		}

		cmd.Printf("Preparing deployment of %s (%s)...\n", templateID, cloud)

		rt.orch.Prepare(cmd.Context(), orchestrator.PrepareRequest{
			TemplateID:  templateID,
			NamePrefix:  deployName,
			Files:       files,
			Variables:   vars,
			Credentials: gateway.Credentials{Cloud: cloud},
		})

		step, rec, st := rt.orch.Snapshot()
		if step == orchestrator.StepFailed {
			printStatus(cmd, st)
			return fmt.Errorf("prepare failed")
		}

		cmd.Printf("Deployment %s is ready for review.\n\n", rec.Name)
		printStatus(cmd, st)

		if !deployAutoApprove && !confirmPlan(cmd) {
			cmd.Println("Apply not confirmed, leaving the plan in place.")
			return nil
		}

		rt.orch.ConfirmAndApply(cmd.Context())

		step, _, st = awaitTerminal(cmd.Context(), rt.orch)
		printStatus(cmd, st)

		if step != orchestrator.StepComplete {
			return fmt.Errorf("deployment failed")
		}

		cmd.Printf("Deployment %s complete.\n", rec.Name)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <deployment-name>",
	Short: "Destroy a previously deployed configuration",
	Long:  `Destroy runs terraform destroy against the named deployment directory. Cloud credentials are taken from the environment.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		name := args[0]
		cmd.Printf("Destroying deployment %s...\n", name)

		seq, err := rt.gw.StartDestroy(cmd.Context(), name, gateway.Credentials{})
		if err != nil {
			return fmt.Errorf("start destroy: %w", err)
		}

		for {
			st, err := rt.gw.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query destroy status: %w", err)
			}
			if st.Seq == seq && !st.Running {
				printStatus(cmd, st)
				if st.Success == nil || !*st.Success {
					return fmt.Errorf("destroy failed")
				}
				cmd.Printf("Deployment %s destroyed.\n", name)
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(rt.cfg.Poller.RollbackInterval):
			}
		}
	},
}

// parseVars turns repeated key=value flags into a variable map
func parseVars(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func confirmPlan(cmd *cobra.Command) bool {
	cmd.Print("Apply this plan? Only 'yes' will be accepted: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}

// awaitTerminal polls the orchestrator until it leaves the deploying step
func awaitTerminal(ctx context.Context, orch *orchestrator.Orchestrator) (orchestrator.Step, *orchestrator.Record, *gateway.RunStatus) {
	for {
		step, rec, st := orch.Snapshot()
		if step != orchestrator.StepDeploying {
			return step, rec, st
		}

		select {
		case <-ctx.Done():
			return step, rec, st
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func printStatus(cmd *cobra.Command, st *gateway.RunStatus) {
	if st == nil || st.Output == "" {
		return
	}
	cmd.Println(strings.TrimRight(st.Output, "\n"))
}
