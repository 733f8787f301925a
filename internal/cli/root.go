// Package cli implements the seqdesk command tree: the interactive chat
// session, the study loader and version reporting.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/omixlabs/seqdesk/pkg/store"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// DefaultDBPath is where the study database lives unless --db says
// otherwise.
const DefaultDBPath = "data/study.db"

func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:   "seqdesk",
		Short: "Conversational analytics over a tabular RNA-seq study database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	var dbPath string
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", DefaultDBPath, "path to the study database file")

	var dbDriver string
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", store.DriverSQLite, "study database driver (sqlite3 or duckdb)")

	rootCmd.AddCommand(
		NewChatCmd().Command(),
		NewLoadCmd().Command(),
		NewVersionCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

// newLogger writes to stderr so chat output and tables keep stdout to
// themselves.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
