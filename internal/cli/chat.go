package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omixlabs/seqdesk/pkg/agent"
	"github.com/omixlabs/seqdesk/pkg/agent/prompts"
	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/catalog"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

const chatWelcome = `Ask questions about the study in plain language.
Commands: /schema  /plot <spec>  /report  /reset  /quit`

type ChatCmd struct{}

func NewChatCmd() *ChatCmd {
	return &ChatCmd{}
}

func (c *ChatCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive analytics session against the study database",
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
			plotsDir, err := cmd.Flags().GetString("plots-dir")
			if err != nil {
				return fmt.Errorf("failed to get plots-dir flag: %w", err)
			}
			reportsDir, err := cmd.Flags().GetString("reports-dir")
			if err != nil {
				return fmt.Errorf("failed to get reports-dir flag: %w", err)
			}
			model, err := cmd.Flags().GetString("model")
			if err != nil {
				return fmt.Errorf("failed to get model flag: %w", err)
			}

			_ = godotenv.Load()
			if os.Getenv("ANTHROPIC_API_KEY") == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is not set (export it or put it in a .env file)")
			}

			log := newLogger(verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := store.New(store.Config{Logger: log, Driver: dbDriver, DSN: dbPath})
			if err != nil {
				return fmt.Errorf("failed to open study database: %w", err)
			}
			defer func() {
				if err := st.Close(); err != nil {
					log.Error("failed to close store", "error", err)
				}
			}()

			renderer, err := chart.NewRenderer(chart.Config{Logger: log, OutputDir: plotsDir})
			if err != nil {
				return fmt.Errorf("failed to create chart renderer: %w", err)
			}

			exporter, err := report.NewExporter(report.Config{Logger: log, OutputDir: reportsDir})
			if err != nil {
				return fmt.Errorf("failed to create report exporter: %w", err)
			}

			cat, err := catalog.Load()
			if err != nil {
				return fmt.Errorf("failed to load dataset catalog: %w", err)
			}

			pr, err := prompts.Load()
			if err != nil {
				return fmt.Errorf("failed to load prompts: %w", err)
			}

			llm, err := react.NewAnthropicClient(react.AnthropicConfig{
				Logger: log,
				Client: anthropic.NewClient(),
				Model:  anthropic.Model(model),
				System: pr.BuildSystemPrompt(cat.Render()),
			})
			if err != nil {
				return fmt.Errorf("failed to create model client: %w", err)
			}

			orch, err := agent.New(agent.Config{
				Logger:   log,
				LLM:      llm,
				Store:    st,
				Renderer: renderer,
				Exporter: exporter,
				Prompts:  pr,
			})
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			sess := session.New("cli", nil, 0)
			return repl(ctx, orch, sess, st, renderer, exporter)
		},
	}

	cmd.Flags().String("plots-dir", chart.DefaultOutputDir, "directory for rendered charts")
	cmd.Flags().String("reports-dir", report.DefaultOutputDir, "directory for exported reports")
	cmd.Flags().String("model", "", "model override (default "+string(react.DefaultModel)+")")

	return cmd
}

func repl(ctx context.Context, orch *agent.Orchestrator, sess *session.Session, st *store.Store, renderer *chart.Renderer, exporter *report.Exporter) error {
	fmt.Println(chatWelcome)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, line, orch, sess, st, renderer, exporter)
			if err != nil {
				fmt.Println(err)
			}
			if quit {
				return nil
			}
			continue
		}

		turn, err := orch.Ask(ctx, sess, line, os.Stdout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Printf("Something went wrong with that question: %v\n", err)
			continue
		}

		fmt.Println(turn.Reply)
		if turn.ChartFile != "" {
			fmt.Printf("Chart written to %s\n", filepath.Join(renderer.OutputDir(), turn.ChartFile))
		}
		if turn.ReportFile != "" {
			fmt.Printf("Report written to %s\n", filepath.Join(exporter.OutputDir(), turn.ReportFile))
		}
	}
}

// runCommand dispatches a slash command. The bool reports whether the REPL
// should exit.
func runCommand(ctx context.Context, line string, orch *agent.Orchestrator, sess *session.Session, st *store.Store, renderer *chart.Renderer, exporter *report.Exporter) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/reset":
		orch.Reset(sess)
		fmt.Println("Conversation cleared.")
		return false, nil

	case "/schema":
		schemas, err := st.DescribeSchema(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to describe schema: %w", err)
		}
		fmt.Println(store.RenderSchema(schemas))
		return false, nil

	case "/plot":
		if strings.TrimSpace(rest) == "" {
			return false, fmt.Errorf("usage: /plot <type>|x_column=...|y_column=...|title=...")
		}
		spec, err := chart.Parse(strings.TrimSpace(rest))
		if err != nil {
			return false, err
		}
		filename, err := renderer.Render(spec, sess.Cache)
		if err != nil {
			return false, err
		}
		fmt.Printf("Chart written to %s\n", filepath.Join(renderer.OutputDir(), filename))
		return false, nil

	case "/report":
		filename, err := exporter.Export(sess.Cache)
		if err != nil {
			return false, err
		}
		fmt.Printf("Report written to %s\n", filepath.Join(exporter.OutputDir(), filename))
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
}
