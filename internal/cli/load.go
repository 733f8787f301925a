package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/omixlabs/seqdesk/pkg/ingest"
)

type LoadCmd struct{}

func NewLoadCmd() *LoadCmd {
	return &LoadCmd{}
}

func (c *LoadCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a directory of CSV/TSV analysis exports into the study database",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			dbPath, err := cmd.Root().PersistentFlags().GetString("db")
			if err != nil {
				return fmt.Errorf("failed to get db flag: %w", err)
			}
			dbDriver, err := cmd.Root().PersistentFlags().GetString("db-driver")
			if err != nil {
				return fmt.Errorf("failed to get db-driver flag: %w", err)
			}
			dir, err := cmd.Flags().GetString("dir")
			if err != nil {
				return fmt.Errorf("failed to get dir flag: %w", err)
			}
			workers, err := cmd.Flags().GetInt("workers")
			if err != nil {
				return fmt.Errorf("failed to get workers flag: %w", err)
			}

			log := newLogger(verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if parent := filepath.Dir(dbPath); parent != "." {
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return fmt.Errorf("failed to create database directory: %w", err)
				}
			}

			loader, err := ingest.New(ingest.Config{
				Logger:  log,
				Driver:  dbDriver,
				DSN:     dbPath,
				Workers: workers,
			})
			if err != nil {
				return fmt.Errorf("failed to create loader: %w", err)
			}
			defer func() {
				if err := loader.Close(); err != nil {
					log.Error("failed to close loader", "error", err)
				}
			}()

			report, err := loader.LoadDir(ctx, dir)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", dir, err)
			}

			printLoadReport(report)
			return nil
		},
	}

	cmd.Flags().String("dir", "", "directory of CSV/TSV files to load")
	cmd.Flags().Int("workers", ingest.DefaultWorkers, "number of files loaded concurrently")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func printLoadReport(report *ingest.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Table", "File", "Rows", "Columns"})

	for _, t := range report.Tables {
		table.Append([]string{
			t.Table,
			t.File,
			fmt.Sprintf("%d", t.Rows),
			fmt.Sprintf("%d", t.Columns),
		})
	}
	table.Render()

	fmt.Printf("Loaded %d rows across %d tables\n", report.TotalRows(), len(report.Tables))
}
