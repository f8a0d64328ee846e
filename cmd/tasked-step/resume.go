package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	var dbPath, stepID string
	var threadCount int

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a crashed run against a durable embedded task table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeStep(cmd.Context(), dbPath, stepID, threadCount)
		},
	}
	cmd.Flags().StringVar(&dbPath, "embedded-db", "", "directory containing the embedded Dolt database from the crashed run (required)")
	cmd.Flags().StringVar(&stepID, "step-id", "", "stepId of the run to resume (required)")
	cmd.Flags().IntVar(&threadCount, "thread-count", 8, "calculatedThreadCount persisted from the original run")
	_ = cmd.MarkFlagRequired("embedded-db")
	_ = cmd.MarkFlagRequired("step-id")
	return cmd
}

func resumeStep(ctx context.Context, dbPath, stepID string, threadCount int) error {
	w, err := wireResume(ctx, dbPath, stepID, threadCount)
	if err != nil {
		return err
	}
	defer w.step.Close()
	if w.closeTable != nil {
		defer func() { _ = w.closeTable() }()
	}

	fmt.Println(accentStyle.Render(fmt.Sprintf("resuming step %s from %s", stepID, dbPath)))

	complete, err := w.step.Execute(ctx, true)
	if err != nil {
		return err
	}
	if !complete {
		if err := w.executor.Wait(); err != nil {
			return err
		}
	}
	return printResult(w)
}
