package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored run summaries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			client, err := flags.client(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, run := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s backend=%s tasks=%d test_accuracy=%.4f seed=%d\n",
					run.RunID, run.CreatedAtUTC, run.Backend, run.NTasks, run.TestAccuracy, run.Seed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs")
	return cmd
}
