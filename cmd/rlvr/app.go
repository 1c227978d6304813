package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"rlvr/internal/agents"
	"rlvr/internal/config"
	"rlvr/internal/database"
	"rlvr/internal/evaluation"
	"rlvr/internal/logging"
	"rlvr/internal/monitoring"
	"rlvr/internal/sandbox"
	"rlvr/internal/verify"
)

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	model   llms.Model
	store   *database.Store
	monitor *monitoring.Monitor
	metrics *evaluation.MetricsCollector
	agent   *agents.Agent
}

// newApp loads configuration and builds the store, the optional model and
// the agent. With resume set the agent starts from its latest checkpoint.
func newApp(ctx context.Context, resume bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		log:     logging.New(cfg.Log.Level, cfg.Log.Format, nil),
		monitor: monitoring.NewMonitor(),
		metrics: evaluation.NewMetricsCollector(),
	}

	if cfg.LLM.Model != "" {
		a.model, err = cfg.LLM.Registry().GetModel(cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		a.log.Info("model loaded", "model", cfg.LLM.Model)
	}

	a.store, err = database.Open(cfg.Database.Dialect, cfg.Database.DSN, a.log)
	if err != nil {
		return nil, err
	}

	a.agent, err = cfg.Agent.BuildAgent(verify.Options{Model: a.model}, a.log)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	if resume {
		cp, err := a.store.LatestCheckpoint(ctx, a.agent.Name())
		switch {
		case errors.Is(err, database.ErrNotFound):
			a.log.Info("no checkpoint to resume from")
		case err != nil:
			a.store.Close()
			return nil, err
		default:
			a.agent.ImportState(cp.State)
			a.log.Info("resumed from checkpoint", "run_id", cp.RunID, "episode", cp.Episode)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// solver picks the LLM solver when a model is configured and asked for.
func (a *app) solver(useLLM bool) (sandbox.Solver, error) {
	if !useLLM {
		return sandbox.NewNoisySolver(a.cfg.Trainer.Seed), nil
	}
	if a.model == nil {
		return nil, errors.New("llm solver requested but no llm.model is configured")
	}
	return sandbox.NewLLMSolver(a.model), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
