package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"examflow/internal/store"
	"examflow/internal/task"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect archived tasks",
	}
	tasksCmd.AddCommand(newTasksListCommand(ctx))
	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var (
		examID   string
		statuses []string
		limit    int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{ExamID: examID, Limit: limit}
			for _, raw := range statuses {
				status, ok := task.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown task status %q", strings.TrimSpace(raw))
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			return ctx.withStore(func(st *store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, tasks)
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks archived")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, []string{
						shortID(t.ID),
						string(t.Type),
						paint(string(t.Status), colorize),
						fmt.Sprint(t.Priority),
						fmt.Sprint(t.Attempts),
						t.Payload.ExamID,
						formatTimestamp(t.CreatedAt),
						formatDuration(t.StartedAt, t.CompletedAt),
						t.Error,
					})
				}
				fmt.Fprintln(out, renderTable("",
					[]string{"ID", "Type", "Status", "Priority", "Attempts", "Exam", "Created", "Duration", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&examID, "exam", "e", "", "Only tasks for this exam")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of tasks to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print tasks as JSON")
	return cmd
}
