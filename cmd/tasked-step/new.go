package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newWizardCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Interactively author a step recipe TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "step.toml", "path to write the generated recipe")
	return cmd
}

func runWizard(out string) error {
	var (
		spaceID       string
		version       = "HEAD"
		quadType      = "HERE_QUAD"
		targetLevel   = "11"
		csvFormat     bool
		partitionKey  string
		threadCount   = "8"
		minThreshold  = "200000"
	)

	quadOptions := []huh.Option[string]{
		huh.NewOption("HERE_QUAD (equirectangular grid)", "HERE_QUAD"),
		huh.NewOption("MERCATOR_QUAD (Web Mercator grid)", "MERCATOR_QUAD"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Space ID").
				Description("The dataset this step runs against (required)").
				Placeholder("e.g., my-space").
				Value(&spaceID).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("space id is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Version").
				Description(`HEAD, tag:<name>, [start,end), or a concrete integer`).
				Value(&version),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Quad type").
				Description("Tile grid projection for ChangedTiles exports").
				Options(quadOptions...).
				Value(&quadType),

			huh.NewInput().
				Title("Target level").
				Description("Tile zoom level, 0-12").
				Value(&targetLevel).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 || n > 12 {
						return fmt.Errorf("targetLevel must be between 0 and 12")
					}
					return nil
				}),

			huh.NewConfirm().
				Title("CSV format").
				Affirmative("CSV").
				Negative("GeoJSON").
				Value(&csvFormat),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Partition key (optional)").
				Description("Feature property to partition a generic download by").
				Value(&partitionKey),

			huh.NewInput().
				Title("Parallelism thread count").
				Value(&threadCount),

			huh.NewInput().
				Title("Parallelism min threshold").
				Description("Byte size floor below which parallelism is disabled").
				Value(&minThreshold),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			fmt.Fprintln(os.Stderr, mutedStyle.Render("recipe authoring cancelled"))
			return nil
		}
		return err
	}

	threads, _ := strconv.Atoi(threadCount)
	threshold, _ := strconv.ParseInt(minThreshold, 10, 64)
	level, _ := strconv.Atoi(targetLevel)

	doc := struct {
		SpaceID                 string `toml:"space_id"`
		Version                 string `toml:"version"`
		QuadType                string `toml:"quad_type"`
		TargetLevel             int    `toml:"target_level"`
		CSVFormat               bool   `toml:"csv_format"`
		PartitionKey            string `toml:"partition_key,omitempty"`
		ParallelismThreadCount  int    `toml:"parallelism_thread_count"`
		ParallelismMinThreshold int64  `toml:"parallelism_min_threshold"`
	}{
		SpaceID:                 spaceID,
		Version:                 version,
		QuadType:                quadType,
		TargetLevel:             level,
		CSVFormat:               csvFormat,
		PartitionKey:            partitionKey,
		ParallelismThreadCount:  threads,
		ParallelismMinThreshold: threshold,
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return err
	}

	fmt.Println(okStyle.Render(fmt.Sprintf("wrote recipe to %s", out)))
	return nil
}
