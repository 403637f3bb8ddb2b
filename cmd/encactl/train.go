package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"enca/internal/dataset"
	"enca/internal/nca"
	encaapi "enca/pkg/enca"
)

func newTrainCmd(flags *globalFlags) *cobra.Command {
	var (
		tasksPath     string
		solutionsPath string
		taskID        string
		runID         string
		seed          int64
		backend       string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on every shape preserving task and vote two attempts per test input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if backend != "" {
				b, err := nca.ParseBackend(backend)
				if err != nil {
					return err
				}
				cfg.Backend = string(b)
			}
			if !cmd.Flags().Changed("seed") {
				seed = rand.Int63()
			}

			ds, err := dataset.Load(tasksPath, solutionsPath)
			if err != nil {
				return err
			}
			client, err := flags.client(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Run(cmd.Context(), encaapi.RunRequest{
				Dataset: ds,
				TaskID:  taskID,
				RunID:   runID,
				Seed:    seed,
				Verbose: flags.verbose || taskID != "",
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id=%s\n", res.Summary.RunID)
			fmt.Fprintf(out, "tasks=%d test_grids=%d test_correct=%d test_accuracy=%.4f\n",
				res.Summary.NTasks, res.Summary.TotalTestGrids, res.Summary.TotalTestCorrect, res.Summary.TestAccuracy)
			fmt.Fprintf(out, "elapsed_ms=%d seed=%d\n", res.Summary.ElapsedMs, res.Summary.Seed)
			fmt.Fprintf(out, "artifacts=%s\n", res.ArtifactsDir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&tasksPath, "tasks", "t", "", "Tasks JSON file")
	f.StringVarP(&solutionsPath, "solutions", "a", "", "Solutions JSON file for evaluation")
	f.StringVarP(&taskID, "id", "i", "", "Train a single task")
	f.StringVar(&runID, "run-id", "", "Run id (default: random uuid)")
	f.Int64VarP(&seed, "seed", "s", 0, "Seed for reproducibility")
	f.StringVar(&backend, "backend", "", "Execution backend: CPU or GPU (overrides config)")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}
