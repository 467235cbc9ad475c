package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/wflatency/internal/setup"
	"github.com/psantana5/wflatency/pkg/models"
)

var setupCmd = &cobra.Command{
	Use:   "setup <site> <containerTitle> [username password]",
	Short: "Create the probe lists and associate the 2010 workflow",
	Long: `Ensures the trigger list, both task lists and the workflow history list
exist, activates the Disposition Approval workflow feature and associates
the 2010 workflow with the trigger list. Every step is skipped when already
done, so setup can be run again safely.

The 2013 workflow cannot be created through the API; setup prints the
manual steps.

Example:
  wflatency setup https://contoso.sharepoint.com/sites/latency Pings user@contoso.com password`,
	Args: siteArgs(2),
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, a, err := newApp(cmd, "setup")
	if err != nil {
		return err
	}
	defer a.close()

	containers := models.ContainersFor(args[1])
	t, err := a.connect(args[0], args[2:], containers)
	if err != nil {
		return err
	}

	names := a.cfg.SubscriptionNames()
	steps, err := setup.Run(ctx, t.prov, containers, names[models.GenA], a.logger)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Step", "Name", "Result")
	for _, s := range steps {
		result := "exists"
		if s.Created {
			result = "created"
		}
		table.Append(s.Kind, s.Name, result)
	}
	table.Render()

	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Println()
	fmt.Print(setup.ManualSteps(containers, names[models.GenB]))
	return nil
}
