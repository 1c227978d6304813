package agents

import (
	"context"
	"time"
)

// Checkpoint is an exported agent state tagged with where it was taken.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Episode   int       `json:"episode"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpointer persists checkpoints. Trainers and loops call it every
// configured number of episodes.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// NewCheckpoint snapshots a's state.
func (a *Agent) NewCheckpoint(runID, source string, episode int) Checkpoint {
	return Checkpoint{
		RunID:     runID,
		Source:    source,
		Episode:   episode,
		State:     a.ExportState(),
		CreatedAt: time.Now().UTC(),
	}
}
