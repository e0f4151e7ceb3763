package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	exportFormat string
	exportDir    string
	importMode   string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", services.FormatCSV, "export format (csv or xlsx)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "output directory (defaults to export.dir)")
	importResponsesCmd.Flags().StringVar(&importMode, "mode", services.ImportAppend, "append or replace")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(false)
		if err != nil {
			return err
		}
		defer app.close()
		fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the default lookups when the database has none",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(false)
		if err != nil {
			return err
		}
		defer app.close()
		if err := models.Seed(app.db); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "default lookups seeded")
		return nil
	},
}

var importConfigCmd = &cobra.Command{
	Use:   "import-config <workbook.xlsx>",
	Short: "Replace functions, teams, tools and capabilities from a workbook",
	Long: `Replace the configuration lookups with the contents of an xlsx workbook
with Functions, Teams, Tools and Capabilities sheets. Rows missing from the
workbook are deactivated when responses still reference them and deleted
otherwise. Nothing is applied when the workbook has problems.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(true)
		if err != nil {
			return err
		}
		defer app.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		batch, err := spreadsheet.ParseConfig(f)
		if err != nil {
			return err
		}
		version, err := services.NewConfigService(app.db).Replace(batch, args[0])
		if err != nil {
			var replErr *services.ReplacementError
			if errors.As(err, &replErr) {
				for _, p := range replErr.Problems {
					fmt.Fprintln(cmd.ErrOrStderr(), "  "+p)
				}
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration %s applied: %d functions, %d teams, %d tools, %d capabilities (%d deactivated, %d deleted)\n",
			version.Version, version.Functions, version.Teams, version.Tools, version.Capabilities, version.Deactivated, version.Deleted)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every response to a timestamped file",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(true)
		if err != nil {
			return err
		}
		defer app.close()

		dir := exportDir
		if dir == "" {
			dir = app.cfg.Export.Dir
		}
		file, err := services.NewExportService(app.db, dir).ExportToDir(exportFormat)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d responses written to %s\n", file.Records, file.Path)
		return nil
	},
}

var importResponsesCmd = &cobra.Command{
	Use:   "import-responses <entries.csv>",
	Short: "Load responses from a csv in the export layout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(true)
		if err != nil {
			return err
		}
		defer app.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		result, err := services.NewImportService(app.db).ImportCSV(f, importMode)
		if err != nil {
			return err
		}
		for _, rowErr := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  row %d: %v\n", rowErr.Row, rowErr.Errors)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d imported, %d rejected, %d blank (%s mode)\n",
			result.Success, len(result.Errors), result.Skipped, result.Mode)
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp(true)
	if err != nil {
		return err
	}
	svc, err := bootstrap(app)
	if err != nil {
		app.close()
		return err
	}

	srv := &http.Server{
		Addr:              app.cfg.Server.Host + ":" + app.cfg.Server.Port,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	svc.shutdown()
	app.close()
	return err
}
