package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matiasb/jaime/internal/observability"
	"github.com/matiasb/jaime/internal/server"
	"github.com/matiasb/jaime/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server.

Submissions are accepted as multipart uploads (one archive or loose files),
staged against the job catalog, executed, and their combined logs persisted
for replay.

Example:
  jaime serve --config jaime.yaml
  JAIME_SERVER_PORT=9000 jaime serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}

	logger := observability.CLILogger
	logger.Info("catalog loaded",
		zap.String("path", appConfig.CatalogPath),
		zap.Int("jobs", eng.catalog.Len()))

	h := handlers.New(eng.catalog, eng.store, eng.runner, appConfig.RunTimeout, logger)
	srv := server.New(appConfig.Server, h, appConfig.MaxUploadBytes, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}
