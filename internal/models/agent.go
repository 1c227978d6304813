package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// AgentCheckpoint is a serialised agents.State taken during a run.
type AgentCheckpoint struct {
	gorm.Model
	RunID     string `gorm:"index"`
	AgentName string `gorm:"index"`
	Source    string
	Episode   int
	State     string `gorm:"type:text"`
	TakenAt   time.Time
}

// EpisodeRecord stores the metrics of one trainer or loop episode.
type EpisodeRecord struct {
	gorm.Model
	RunID            string `gorm:"index"`
	Source           string
	Episode          int
	Steps            int
	SuccessRate      float64
	AverageScore     float64
	AverageReward    float64
	TotalReward      float64
	ImprovementRate  float64
	ConvergenceScore float64
	ExplorationRate  float64
	RecordedAt       time.Time
}

// ActionLog represents a log of agent actions
type ActionLog struct {
	gorm.Model
	RunID   string `gorm:"index"`
	Source  string
	Episode int
	Step    int
	Action  string
	Score   float64
	Reward  float64
	Status  string
	Details string `gorm:"type:text"`
}
