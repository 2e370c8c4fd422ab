package models

import "time"

// PipelineType separates sales pipelines from recruiting pipelines.
type PipelineType string

const (
	PipelineSales     PipelineType = "sales"
	PipelineCandidate PipelineType = "candidate"
)

// Stage is a pipeline stage owned by one user.
type Stage struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	Name         string       `json:"name"`
	PipelineType PipelineType `json:"pipelineType"`
	Position     int          `json:"position"`
}

// Position is an open job position in the recruiting pipeline.
type Position struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
