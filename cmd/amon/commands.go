package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amonhq/amon/internal/config"
	"github.com/amonhq/amon/internal/daemon"
	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/hooks"
	"github.com/amonhq/amon/internal/llm"
	"github.com/amonhq/amon/internal/llm/anthropic"
	"github.com/amonhq/amon/internal/schedule"
	"github.com/amonhq/amon/internal/taskgraph/runtime"
	"github.com/amonhq/amon/internal/tools"
	"github.com/amonhq/amon/internal/tools/files"
	"github.com/amonhq/amon/internal/tools/policy"
	"github.com/amonhq/amon/internal/tools/workspace"
)

func loadConfig() (string, *config.Config, error) {
	home, err := config.Home()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return "", nil, err
	}
	return home, cfg, nil
}

func buildDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the agent daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var opts []daemon.Option
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				client, err := anthropic.New(anthropic.Config{
					APIKey:       key,
					BaseURL:      cfg.LLM.BaseURL,
					DefaultModel: cfg.LLM.Model,
				})
				if err != nil {
					return err
				}
				opts = append(opts, daemon.WithLLMClient(client))
			}

			d, err := daemon.New(home, cfg, opts...)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
}

// buildRunManager assembles the standalone run stack the CLI commands
// share: policy-guarded tool registry, event log, and model client.
func buildRunManager(home string, cfg *config.Config, projectDir string) (*runtime.Manager, error) {
	logger := slog.Default()

	registry := tools.NewRegistry(
		tools.WithPolicy(&policy.Policy{
			Deny:  cfg.Policy.Deny,
			Ask:   cfg.Policy.Ask,
			Allow: cfg.Policy.Allow,
		}),
		tools.WithGuard(workspace.NewGuard(projectDir)),
		tools.WithAudit(tools.NewAuditSink(config.AuditPath(home), logger)),
		tools.WithRegistryLogger(logger),
	)
	files.Register(registry, files.Config{})

	runnerOpts := []runtime.RunnerOption{
		runtime.WithEmitter(events.NewLog(config.EventsPath(home))),
		runtime.WithRunnerLogger(logger),
		runtime.WithAllowLLM(true),
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		var client llm.Client
		client, err := anthropic.New(anthropic.Config{
			APIKey:       key,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		runnerOpts = append(runnerOpts, runtime.WithLLM(client))
	}

	runner := runtime.NewRunner(registry, runnerOpts...)
	return runtime.NewManager(runner, logger), nil
}

func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

func buildRunCmd() *cobra.Command {
	var (
		projectDir string
		varPairs   []string
		detach     bool
	)

	cmd := &cobra.Command{
		Use:   "run <graph.json>",
		Short: "Execute a task graph in a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			vars, err := parseVars(varPairs)
			if err != nil {
				return err
			}

			manager, err := buildRunManager(home, cfg, projectDir)
			if err != nil {
				return err
			}
			runID, err := manager.StartRun(cmd.Context(), projectDir, args[0], vars)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			if detach {
				return nil
			}

			manager.Wait()
			state, err := manager.StatusRun(projectDir, runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", state.Status)
			if state.Status != runtime.RunCompleted {
				return fmt.Errorf("run %s: %s", runID, state.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	cmd.Flags().StringArrayVar(&varPairs, "var", nil, "graph variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&detach, "detach", false, "print the run ID and exit without waiting")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show the durable state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := runtime.LoadState(runtime.RunDir(projectDir, args[0]))
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	return cmd
}

func buildCancelCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Request cooperative cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := runtime.NewManager(runtime.NewRunner(nil), slog.Default())
			if err := manager.CancelRun(projectDir, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancel requested")
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	return cmd
}

func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and edit the schedule store",
	}
	cmd.AddCommand(buildScheduleListCmd(), buildScheduleAddCmd())
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _, err := loadConfig()
			if err != nil {
				return err
			}
			engine := schedule.NewEngine(config.SchedulesPath(home), nil)
			schedules, err := engine.Load()
			if err != nil {
				return err
			}
			if len(schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no schedules")
				return nil
			}
			for _, s := range schedules {
				next := "-"
				if s.NextFireAt != nil {
					next = s.NextFireAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tenabled=%t\tnext=%s\n",
					s.ScheduleID, s.EffectiveType(), s.Enabled, next)
			}
			return nil
		},
	}
}

func buildScheduleAddCmd() *cobra.Command {
	var (
		id         string
		every      int
		at         string
		cron       string
		templateID string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule (exactly one of --every, --at, --cron)",
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, given := range []bool{every > 0, at != "", cron != ""} {
				if given {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --every, --at, --cron is required")
			}
			if id == "" {
				return fmt.Errorf("--id is required")
			}

			home, _, err := loadConfig()
			if err != nil {
				return err
			}
			engine := schedule.NewEngine(config.SchedulesPath(home), nil)
			schedules, err := engine.Load()
			if err != nil {
				return err
			}
			for _, s := range schedules {
				if s.ScheduleID == id {
					return fmt.Errorf("schedule %s already exists", id)
				}
			}

			now := time.Now().UTC()
			s := &schedule.Schedule{
				ScheduleID: id,
				Enabled:    true,
				CreatedAt:  &now,
				TemplateID: templateID,
			}
			switch {
			case every > 0:
				s.Type = schedule.TypeInterval
				s.IntervalSeconds = every
			case at != "":
				runAt, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				s.Type = schedule.TypeOneShot
				s.RunAt = &runAt
				s.Status = schedule.StatusPending
			case cron != "":
				s.Type = schedule.TypeCron
				s.Cron = cron
			}

			if err := engine.Save(append(schedules, s)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule identifier")
	cmd.Flags().IntVar(&every, "every", 0, "interval in seconds")
	cmd.Flags().StringVar(&at, "at", "", "one-shot fire time, RFC 3339")
	cmd.Flags().StringVar(&cron, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&templateID, "template", "", "graph template to run on fire")
	return cmd
}

func buildHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hook definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _, err := loadConfig()
			if err != nil {
				return err
			}
			loaded := hooks.LoadDir(config.HooksDir(home), slog.Default())
			if len(loaded) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no hooks")
				return nil
			}
			for _, h := range loaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					h.HookID, strings.Join(h.EventTypes, ","), h.Action.Type)
			}
			return nil
		},
	})
	return cmd
}
