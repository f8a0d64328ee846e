package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Resolve the version reference and print the planned task set without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return planStep(cmd.Context())
		},
	}
}

func planStep(ctx context.Context) error {
	w, err := wire(ctx)
	if err != nil {
		return err
	}
	defer w.step.Close()

	if err := w.step.Prepare(ctx); err != nil {
		return err
	}
	w.syncVersionBounds()

	tasks, err := w.cliStep.CreateTaskItems(ctx)
	if err != nil {
		return err
	}

	threadCount, err := w.cliStep.InitialThreadCount(ctx)
	if err != nil {
		return err
	}

	fmt.Println(accentStyle.Render(fmt.Sprintf("space=%s version=%s threadCount=%d taskCount=%d", w.spaceID, w.step.VersionRef(), threadCount, len(tasks))))

	tileIDs := make([]string, len(tasks))
	for i, td := range tasks {
		tileIDs[i] = td.TileID()
	}
	out, _ := json.MarshalIndent(tileIDs, "", "  ")
	fmt.Println(mutedStyle.Render("planned tiles:"))
	fmt.Println(string(out))
	return nil
}
