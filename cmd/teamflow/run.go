package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nidhogg/teamflow/internal/events"
	"github.com/nidhogg/teamflow/internal/team"
	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/spf13/cobra"
)

type runFlags struct {
	team        string
	members     []string
	mode        string
	coordinator string
	conflicts   bool
	follow      string
}

func runCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run one task to completion and print the message log",
		Example: `  teamflow run --team research --coordinator alice "Market size of e-bikes"
  teamflow run --members a,b,c --mode parallel --conflicts "Is 2^31-1 prime?"
  teamflow run --follow 6f1c2a9e-...`,
		Args: func(cmd *cobra.Command, args []string) error {
			if f.follow != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if f.follow != "" {
				return followFromRedis(ctx, g, f.follow, cmd.OutOrStdout())
			}
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()
			return runTask(ctx, a.engine, f, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.team, "team", "t", "", "Name of a configured team")
	cmd.Flags().StringSliceVarP(&f.members, "members", "m", nil, "Ad-hoc team members (instead of --team)")
	cmd.Flags().StringVar(&f.mode, "mode", "sequential", "Collaboration mode for an ad-hoc team")
	cmd.Flags().StringVar(&f.coordinator, "coordinator", "", "Coordinating member")
	cmd.Flags().BoolVar(&f.conflicts, "conflicts", false, "Enable conflict resolution for an ad-hoc team")
	cmd.Flags().StringVar(&f.follow, "follow", "", "Follow a run served by another process through its Redis stream")
	return cmd
}

func runTask(ctx context.Context, engine *workflow.Engine, f runFlags, task string, out io.Writer) error {
	var (
		id  string
		err error
	)
	switch {
	case len(f.members) > 0:
		id, err = engine.StartTeam(ctx, &team.Team{
			Name:               "adhoc",
			Members:            f.members,
			Mode:               team.ParseMode(f.mode),
			ConflictResolution: f.conflicts,
		}, task, f.coordinator)
	case f.team != "":
		id, err = engine.Start(ctx, f.team, task, f.coordinator)
	default:
		return fmt.Errorf("either --team or --members is required")
	}
	if err != nil {
		return err
	}

	feed, cancel, err := engine.Subscribe(id, 1024)
	if err != nil {
		return err
	}
	defer cancel()
	snap, err := engine.Status(id)
	if err != nil {
		return err
	}

	var last int64
	for _, m := range snap.Messages {
		printMessage(out, m)
		last = m.ID
	}

	status := snap.Status
	for !status.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return fmt.Errorf("run %s closed before finishing", id)
			}
			switch ev.Type {
			case workflow.EventMessage:
				if ev.Message.ID > last {
					printMessage(out, *ev.Message)
					last = ev.Message.ID
				}
			case workflow.EventStatus:
				status = ev.Status
			}
		}
	}

	snap, err = engine.Status(id)
	if err != nil {
		return err
	}
	for _, m := range snap.Messages {
		if m.ID > last {
			printMessage(out, m)
		}
	}
	if snap.Status == workflow.StatusFailed {
		return fmt.Errorf("run %s failed", id)
	}
	fmt.Fprintf(out, "\n%s\n", snap.Result)
	if snap.Answer != "" {
		fmt.Fprintf(out, "Answer: %s\n", snap.Answer)
	}
	return nil
}

func printMessage(out io.Writer, m workflow.Message) {
	fmt.Fprintf(out, "%s  %-12s %s\n", m.Timestamp.Format("15:04:05.000"), m.Sender, m.Body)
}

// followFromRedis replays and follows a run's event stream written by a
// teamflow server sharing the same Redis.
func followFromRedis(ctx context.Context, g *globalFlags, runID string, out io.Writer) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if cfg.Database.Redis.URL == "" {
		return fmt.Errorf("--follow needs database.redis.url")
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	stream, err := events.NewRedisStream(cfg.Database.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer stream.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return followRun(ctx, runID, stream.Subscribe(ctx, runID, "0"), out)
}

// followRun prints a run's messages from its event stream until the run
// completes or fails. A restart clears the log, so numbering starts over.
func followRun(ctx context.Context, runID string, feed <-chan workflow.Event, out io.Writer) error {
	var last int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return fmt.Errorf("stream for run %s ended before the run finished", runID)
			}
			switch ev.Type {
			case workflow.EventMessage:
				if ev.Message != nil && ev.Message.ID > last {
					printMessage(out, *ev.Message)
					last = ev.Message.ID
				}
			case workflow.EventStatus:
				switch ev.Status {
				case workflow.StatusIdle:
					last = 0
				case workflow.StatusFailed:
					return fmt.Errorf("run %s failed", runID)
				case workflow.StatusCompleted:
					fmt.Fprintf(out, "\n%s\n", ev.Result)
					return nil
				}
			}
		}
	}
}
