package models

// ArchiveStats aggregates every call ever archived.
type ArchiveStats struct {
	Usage
	AvgDurationMs float64 `json:"avgDurationMs"`
	UniqueModels  int     `json:"uniqueModels"`
	UniqueAgents  int     `json:"uniqueAgents"`
}

// ModelStats aggregates archived calls for one model.
type ModelStats struct {
	Usage
	Model         string  `json:"model"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}
