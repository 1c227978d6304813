package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rlvr/internal/evaluation"
	"rlvr/internal/playground"
	"rlvr/internal/sandbox"
	"rlvr/internal/training"
)

var (
	serveTrain bool
	serveLLM   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the playground API for the latest checkpointed agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		solver, err := a.solver(serveLLM)
		if err != nil {
			return err
		}
		tasks := sandbox.ArithmeticTasks(solver)

		evaluator := evaluation.NewEvaluator()
		evaluator.Register(&evaluation.Suite{
			ID:          "arithmetic",
			Name:        "Arithmetic",
			Description: "Addition, subtraction, multiplication and modulo",
			Tasks:       tasks,
		})
		for _, task := range tasks {
			evaluator.Register(&evaluation.Suite{ID: task.Name, Name: task.Name, Tasks: []training.Task{task}})
		}
		// evaluation gets its own trainer so it never shares history with a training run
		evalTrainer, err := training.NewTrainer(a.agent, tasks, a.cfg.Trainer, training.WithLogger(a.log))
		if err != nil {
			return err
		}

		srv := playground.NewPlaygroundServer(playground.Options{
			Agent:     a.agent,
			Monitor:   a.monitor,
			Metrics:   a.metrics,
			Store:     a.store,
			Evaluator: evaluator,
			Trainer:   evalTrainer,
			JWTSecret: a.cfg.Server.JWTSecret,
			Logger:    a.log,
		})
		server := &http.Server{Addr: a.cfg.Server.Addr, Handler: srv.Handler()}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.log.Info("playground listening", "addr", server.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			a.log.Info("shutting down playground")
			return server.Shutdown(shutdownCtx)
		})
		if serveTrain {
			tr, err := training.NewTrainer(a.agent, tasks, a.cfg.Trainer,
				training.WithLogger(a.log),
				training.WithCheckpointer(a.store),
				training.WithObserver(a.store),
				training.WithObserver(a.monitor),
				training.WithObserver(a.metrics))
			if err != nil {
				return err
			}
			g.Go(func() error {
				_, err := tr.Train(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveTrain, "train", false, "train the agent in the background while serving")
	serveCmd.Flags().BoolVar(&serveLLM, "llm", false, "answer problems with the configured model")
}
