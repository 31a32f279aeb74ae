package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matiasb/jaime/pkg/instance"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Manage job instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list <slug>",
	Short: "List instances of a job, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesList,
}

var instancesRmCmd = &cobra.Command{
	Use:   "rm <slug> <id>",
	Short: "Remove an instance working directory (results are kept)",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstancesRm,
}

var instancesOutputCmd = &cobra.Command{
	Use:   "output <slug> <id>",
	Short: "Print the persisted log of a completed instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstancesOutput,
}

var instancesJSON bool

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd)
	instancesCmd.AddCommand(instancesRmCmd)
	instancesCmd.AddCommand(instancesOutputCmd)

	instancesListCmd.Flags().BoolVar(&instancesJSON, "json", false, "Output as JSON")
}

func runInstancesList(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	job, err := eng.catalog.Resolve(args[0])
	if err != nil {
		return err
	}
	infos, err := eng.store.ListInstances(job)
	if err != nil {
		return err
	}

	if instancesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPLETED\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%t\t%s\n", info.ID, info.Completed, info.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runInstancesRm(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	job, err := eng.catalog.Resolve(args[0])
	if err != nil {
		return err
	}
	inst, err := instance.Resume(eng.store, job, args[1])
	if err != nil {
		return err
	}
	return inst.Remove()
}

func runInstancesOutput(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	job, err := eng.catalog.Resolve(args[0])
	if err != nil {
		return err
	}

	// Results outlive removal, so the working directory is not required here.
	inst := instance.At(eng.store, job, args[1])
	output, ok, err := inst.Output()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("instance %s has no persisted output", args[1])
	}
	fmt.Print(output)
	return nil
}
