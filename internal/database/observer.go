package database

import (
	"context"
	"fmt"

	"rlvr/internal/loop"
	"rlvr/internal/models"
	"rlvr/internal/training"
)

// Observer callbacks cannot return errors, so failures are logged.

func (s *Store) TrainingStep(runID string, episode, step int, r training.StepResult) {
	status := "failure"
	switch {
	case r.Error != "":
		status = "error"
	case r.Success:
		status = "success"
	}
	s.logErr("save action", s.SaveAction(context.Background(), &models.ActionLog{
		RunID:   runID,
		Source:  "trainer",
		Episode: episode,
		Step:    step,
		Action:  r.Task,
		Score:   r.Score,
		Reward:  r.Reward,
		Status:  status,
		Details: r.Error,
	}))
}

func (s *Store) TrainingEpisode(runID string, m training.Metrics) {
	s.logErr("save episode", s.SaveEpisode(context.Background(), &models.EpisodeRecord{
		RunID:            runID,
		Source:           "trainer",
		Episode:          m.Episode,
		Steps:            m.Steps,
		SuccessRate:      m.SuccessRate,
		AverageScore:     m.AverageScore,
		AverageReward:    m.AverageReward,
		ImprovementRate:  m.ImprovementRate,
		ConvergenceScore: m.ConvergenceScore,
		ExplorationRate:  m.ExplorationRate,
		RecordedAt:       m.Timestamp,
	}))
}

func (s *Store) LoopStep(runID string, episode int, rec loop.StepRecord) {
	status := "ok"
	if rec.Error != "" {
		status = "error"
	} else if rec.Done {
		status = "done"
	}
	s.logErr("save action", s.SaveAction(context.Background(), &models.ActionLog{
		RunID:   runID,
		Source:  "loop",
		Episode: episode,
		Step:    rec.Step,
		Action:  fmt.Sprint(rec.Action),
		Score:   rec.Score,
		Reward:  rec.Reward,
		Status:  status,
		Details: rec.Error,
	}))
}

func (s *Store) LoopEpisode(runID string, m loop.Metrics) {
	s.logErr("save episode", s.SaveEpisode(context.Background(), &models.EpisodeRecord{
		RunID:            runID,
		Source:           "loop",
		Episode:          m.Episode,
		Steps:            m.Steps,
		SuccessRate:      m.SuccessRate,
		AverageScore:     m.AverageScore,
		AverageReward:    m.AverageReward,
		TotalReward:      m.TotalReward,
		ImprovementRate:  m.ImprovementRate,
		ConvergenceScore: m.ConvergenceScore,
		ExplorationRate:  m.ExplorationRate,
		RecordedAt:       m.Timestamp,
	}))
}

func (s *Store) logErr(op string, err error) {
	if err != nil {
		s.log.Error(op+" failed", "error", err)
	}
}
