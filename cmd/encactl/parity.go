package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"enca/internal/dataset"
	"enca/internal/grid"
	"enca/internal/substrate"
	encaapi "enca/pkg/enca"
)

func newParityCmd(flags *globalFlags) *cobra.Command {
	var (
		tasksPath string
		rules     int
		grids     int
		maxSteps  int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Compare CPU and device backends on random rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			var inputs []grid.Grid
			if tasksPath != "" {
				ds, err := dataset.Load(tasksPath, "")
				if err != nil {
					return err
				}
				for _, task := range ds.Tasks {
					for _, g := range task.Grids() {
						if g.Len() <= substrate.MaxDeviceCells {
							inputs = append(inputs, g)
						}
					}
				}
			} else {
				inputs = randomGrids(rand.New(rand.NewSource(seed)), grids)
			}

			client, err := flags.client(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			report, err := client.Parity(cmd.Context(), encaapi.ParityRequest{
				Grids:    inputs,
				Rules:    rules,
				MaxSteps: maxSteps,
				Seed:     seed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pairs=%d mismatches=%d\n", report.Pairs, report.Mismatches)
			if report.Mismatches > 0 {
				return fmt.Errorf("%d of %d rule-grid pairs differ between backends", report.Mismatches, report.Pairs)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&tasksPath, "tasks", "t", "", "Tasks JSON file (default: synthetic grids)")
	f.IntVar(&rules, "rules", 8, "Number of random rules")
	f.IntVar(&grids, "grids", 16, "Number of synthetic grids")
	f.IntVar(&maxSteps, "max-steps", 0, "Step budget (default: config max_steps)")
	f.Int64VarP(&seed, "seed", "s", 1, "Seed")
	return cmd
}

func randomGrids(rng *rand.Rand, n int) []grid.Grid {
	out := make([]grid.Grid, n)
	for i := range out {
		h, w := 1+rng.Intn(30), 1+rng.Intn(30)
		rows := make([][]uint8, h)
		for y := range rows {
			rows[y] = make([]uint8, w)
			for x := range rows[y] {
				rows[y][x] = uint8(rng.Intn(grid.NumColors))
			}
		}
		out[i] = grid.MustNew(rows)
	}
	return out
}
