package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List catalog jobs",
	RunE:  runJobs,
}

var jobsJSON bool

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output as JSON")
}

func runJobs(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	jobs := eng.catalog.Jobs()

	if jobsJSON {
		type row struct {
			Slug          string   `json:"slug"`
			Title         string   `json:"title"`
			ExpectedFiles []string `json:"expected_files"`
			Command       []string `json:"command"`
		}
		out := make([]row, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, row{Slug: j.Slug, Title: j.Title, ExpectedFiles: j.ExpectedFiles, Command: j.Command})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tTITLE\tEXPECTED FILES\tUPLOADS")
	for _, j := range jobs {
		uploads := "archive"
		if j.AllowIndividualUpload {
			uploads = "files"
			if j.Archive != nil {
				uploads = "files|archive"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", j.Slug, j.Title, len(j.ExpectedFiles), uploads)
	}
	return w.Flush()
}
