package main

import (
	"github.com/spf13/cobra"

	"rlvr/internal/loop"
	"rlvr/internal/sandbox"
)

var (
	loopResume bool
	loopSize   int
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Drive the configured agent through the number line environment",
	Long: `Runs the agent-environment loop on a number line walk. Each step's
environment reward is passed to the agent as the expected value, so the
agent should be configured with a reward_signal verifier.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, loopResume)
		if err != nil {
			return err
		}
		defer a.Close()

		seed := a.cfg.Loop.Seed
		opts := []loop.Option{
			loop.WithLogger(a.log),
			loop.WithPolicy(sandbox.GreedyPolicy),
			loop.WithCheckpointer(a.store),
			loop.WithObserver(a.store),
			loop.WithObserver(a.monitor),
			loop.WithObserver(a.metrics),
		}
		if a.cfg.Loop.AdaptiveDifficulty {
			opts = append(opts, loop.WithGenerator(sandbox.Generator(seed)))
		}
		l, err := loop.New(a.agent, sandbox.NewNumberLine(loopSize, seed), a.cfg.Loop, opts...)
		if err != nil {
			return err
		}

		res, err := l.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"run_id":            res.RunID,
			"success":           res.Success,
			"converged":         res.Converged,
			"final_metrics":     res.FinalMetrics,
			"learned_behaviors": res.LearnedBehaviors,
		})
	},
}

func init() {
	loopCmd.Flags().BoolVar(&loopResume, "resume", false, "start from the latest stored checkpoint")
	loopCmd.Flags().IntVar(&loopSize, "size", 10, "half width of the number line")
}
