package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacetasks/tasked-step/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var otlpEndpoint string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare and execute a step run to completion against in-memory fakes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), otlpEndpoint)
		},
	}
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-metrics-endpoint", "", "OTLP HTTP metrics collector endpoint (default: stdout exporter)")
	return cmd
}

func runStep(ctx context.Context, otlpEndpoint string) error {
	var opts []telemetry.Option
	if otlpEndpoint != "" {
		opts = append(opts, telemetry.WithOTLPMetricsEndpoint(otlpEndpoint))
	}
	tel, shutdown, err := telemetry.Init(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	w, err := wire(ctx)
	if err != nil {
		return err
	}
	defer w.step.Close()

	ctx, end := tel.StartSpan(ctx, "prepare", w.stepID, w.spaceID)
	prepErr := w.step.Prepare(ctx)
	end(prepErr)
	if prepErr != nil {
		return prepErr
	}
	w.syncVersionBounds()

	fmt.Println(accentStyle.Render(fmt.Sprintf("step %s prepared: space=%s version=%s", w.stepID, w.spaceID, w.step.VersionRef())))

	ctx, end = tel.StartSpan(ctx, "execute", w.stepID, w.spaceID)
	complete, execErr := w.step.Execute(ctx, false)
	end(execErr)
	if execErr != nil {
		return execErr
	}

	if !complete {
		if err := w.executor.Wait(); err != nil {
			return err
		}
	}

	return printResult(w)
}

func printResult(w *wiredRun) error {
	fmt.Println(okStyle.Render(fmt.Sprintf("step %s completed: state=%s", w.stepID, w.step.State())))
	fmt.Println(accentStyle.Render(renderProgressBar(w.step.ProgressFraction())))

	stats, err := w.table.Aggregate(context.Background())
	if err != nil {
		return err
	}
	statsJSON, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(mutedStyle.Render("statistics:"))
	fmt.Println(string(statsJSON))

	invalidations := w.cliStep.TileInvalidations()
	invJSON, _ := json.MarshalIndent(invalidations, "", "  ")
	fmt.Println(mutedStyle.Render("tileInvalidations:"))
	fmt.Println(string(invJSON))
	return nil
}
