package domain

// RunRecord is the persisted summary of one pipeline run.
type RunRecord struct {
	RunID      string           `json:"run_id"`
	AssetKey   string           `json:"asset_key"`
	HistoryID  string           `json:"history_id"`
	RulesetID  string           `json:"ruleset_id"`
	StartedAt  int64            `json:"started_at"`  // Unix ms
	FinishedAt int64            `json:"finished_at"` // Unix ms
	FlagCount  int              `json:"flag_count"`
	Coverage   []SourceCoverage `json:"coverage"`
}
