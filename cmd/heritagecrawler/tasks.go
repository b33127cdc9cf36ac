package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/heritage-crawler/internal/server"
	"github.com/JakeFAU/heritage-crawler/internal/status"
)

func newTasksCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "tasks [task_id...]",
		Short: "Print crawl task progress",
		Example: `  heritagecrawler tasks 12 13
  heritagecrawler tasks --active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 && !active {
				return errors.New("pass task ids or --active")
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				defer func() { _ = app.Close(context.Background()) }()
				snaps, err := lookupTasks(ctx, status.New(app.Tasks()), ids, active)
				if err != nil {
					return err
				}
				return renderTasks(cmd.OutOrStdout(), snaps)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "show the active full crawl")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func lookupTasks(ctx context.Context, svc *status.Service, ids []int64, active bool) ([]status.Snapshot, error) {
	var out []status.Snapshot
	if active {
		snap, ok, err := svc.ActiveFull(ctx)
		if err != nil {
			return nil, fmt.Errorf("active full crawl: %w", err)
		}
		if ok {
			out = append(out, snap)
		}
	}
	if len(ids) > 0 {
		batch, err := svc.GetBatch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load tasks: %w", err)
		}
		for _, snap := range batch {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func renderTasks(w io.Writer, snaps []status.Snapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "no matching tasks")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Status", "Progress", "Current Item", "Started", "Error")
	for _, s := range snaps {
		if err := table.Append(
			strconv.FormatInt(s.TaskID, 10),
			string(s.Kind),
			string(s.Status),
			fmt.Sprintf("%d/%d (%d%%)", s.ProcessedItems, s.TotalItems, s.ProgressPercentage),
			s.CurrentItem,
			s.StartedAt.Format(time.RFC3339),
			s.ErrorMessage,
		); err != nil {
			return fmt.Errorf("render task %d: %w", s.TaskID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render tasks: %w", err)
	}
	return nil
}
