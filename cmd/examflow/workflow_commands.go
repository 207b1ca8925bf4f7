package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"examflow/internal/store"
	"examflow/internal/workflow"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Inspect stored workflows",
	}
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	return workflowCmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var (
		examID  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				records, err := st.ListWorkflows(cmd.Context(), examID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No workflows recorded")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.ID,
						rec.ExamID,
						stageLabel(rec.CurrentStage),
						fmt.Sprint(rec.Version),
						formatTimestamp(rec.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable("",
					[]string{"ID", "Exam", "Stage", "Version", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&examID, "exam", "e", "", "Only workflows for this exam")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print workflows as JSON")
	return cmd
}

type workflowDetail struct {
	Summary     workflow.Summary      `json:"summary"`
	Transitions []workflow.Transition `json:"transitions"`
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOut     bool
		withHistory bool
	)
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show stage progress and history of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(st *store.Store) error {
				state, err := st.LoadWorkflow(cmd.Context(), id)
				if err != nil {
					return err
				}
				transitions, err := st.ListTransitions(cmd.Context(), id)
				if err != nil {
					return err
				}
				detail := workflowDetail{Summary: state.Summarize(), Transitions: transitions}
				if jsonOut {
					return writeJSON(cmd, detail)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				renderSummary(out, detail.Summary, colorize)
				if !withHistory {
					return nil
				}
				rows := make([][]string, 0, len(transitions))
				for _, tr := range transitions {
					rows = append(rows, []string{
						fmt.Sprint(tr.Version),
						formatTimestamp(tr.At),
						stageLabel(tr.Stage),
						string(tr.From) + " -> " + paint(string(tr.To), colorize),
						tr.Action,
					})
				}
				fmt.Fprintln(out, renderTable("History",
					[]string{"Version", "At", "Stage", "Change", "Action"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the workflow as JSON")
	cmd.Flags().BoolVar(&withHistory, "history", true, "Include stage transition history")
	return cmd
}
