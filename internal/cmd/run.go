package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matiasb/jaime/internal/observability"
	"github.com/matiasb/jaime/pkg/instance"
)

var runCmd = &cobra.Command{
	Use:   "run <slug>",
	Short: "Stage local inputs and run a job once",
	Long: `Stage input files from local paths into a fresh instance of the given
job, execute it, and print the combined log.

Inputs are either one archive or one --file per expected input.

Example:
  jaime run grader --file answers.txt --file essay.txt
  jaime run grader --archive submission.tar.gz --timeout 60s
  jaime run grader --file answers.txt --keep`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runFiles   []string
	runArchive string
	runTimeout time.Duration
	runKeep    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVar(&runFiles, "file", nil, "Input file path (repeatable)")
	runCmd.Flags().StringVar(&runArchive, "archive", "", "Archive path covering the whole expected set")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Override the configured run timeout")
	runCmd.Flags().BoolVar(&runKeep, "keep", false, "Keep the working directory after the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runArchive != "" && len(runFiles) > 0 {
		return fmt.Errorf("--archive and --file are mutually exclusive")
	}
	if runArchive == "" && len(runFiles) == 0 {
		return fmt.Errorf("provide --archive or at least one --file")
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	job, err := eng.catalog.Resolve(args[0])
	if err != nil {
		return err
	}

	inst := instance.New(eng.store, job)
	if err := stageLocal(inst); err != nil {
		_ = inst.Remove()
		return err
	}

	observability.CLILogger.Info("instance staged",
		zap.String("job", job.Slug), zap.String("id", inst.ID()))

	timeout := appConfig.RunTimeout
	if cmd.Flags().Changed("timeout") {
		timeout = runTimeout
	}

	output, err := inst.Run(cmd.Context(), eng.runner, timeout)
	if err != nil {
		return err
	}
	fmt.Print(output)

	if !runKeep {
		if err := inst.Remove(); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "\ninstance: %s\nlog: %s\n", inst.ID(), inst.LogPath())
	return nil
}

func stageLocal(inst *instance.Instance) error {
	if runArchive != "" {
		f, err := os.Open(runArchive)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return inst.SetupFromArchive(f, filepath.Base(runArchive))
	}

	var files []instance.UploadFile
	var closers []func()
	defer func() {
		for _, close := range closers {
			close()
		}
	}()
	for _, path := range runFiles {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = f.Close() })
		files = append(files, instance.UploadFile{Name: filepath.Base(path), Content: f})
	}
	return inst.SetupFromFiles(files)
}
