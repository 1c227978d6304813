package main

import (
	"github.com/spf13/cobra"

	"rlvr/internal/sandbox"
	"rlvr/internal/training"
)

var (
	trainResume bool
	trainLLM    bool
	trainDecay  float64
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the configured agent on the arithmetic task pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, trainResume)
		if err != nil {
			return err
		}
		defer a.Close()

		solver, err := a.solver(trainLLM)
		if err != nil {
			return err
		}

		opts := []training.Option{
			training.WithLogger(a.log),
			training.WithCheckpointer(a.store),
			training.WithObserver(a.store),
			training.WithObserver(a.monitor),
			training.WithObserver(a.metrics),
		}
		if trainDecay > 0 {
			opts = append(opts, training.WithDecay(training.ExplorationDecay(trainDecay)))
		}
		tr, err := training.NewTrainer(a.agent, sandbox.ArithmeticTasks(solver), a.cfg.Trainer, opts...)
		if err != nil {
			return err
		}

		res, err := tr.Train(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res.FinalMetrics)
	},
}

func init() {
	trainCmd.Flags().BoolVar(&trainResume, "resume", false, "start from the latest stored checkpoint")
	trainCmd.Flags().BoolVar(&trainLLM, "llm", false, "answer problems with the configured model")
	trainCmd.Flags().Float64Var(&trainDecay, "decay", 0, "multiply exploration by (1 - decay) after every episode")
}
