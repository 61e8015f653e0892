package models

// RunMode distinguishes the two terminal assembly paths.
type RunMode string

const (
	// RunModeCommentary preserves the original announcer audio.
	RunModeCommentary RunMode = "commentary"
	// RunModeNarrated overlays synthesised narration over ducked audio.
	RunModeNarrated RunMode = "narrated"
)

// RunStatus represents the lifecycle state of an assembly run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the run produced an output file.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the run aborted with an error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was cancelled by the caller.
	RunStatusCancelled RunStatus = "cancelled"
)

// Run records one assembly run for post-mortem inspection. The pipeline
// writes a row at start and finalises it when the run ends; runs are
// never updated afterwards.
type Run struct {
	BaseModel

	// Token is the working-directory token for this run.
	Token string `gorm:"not null;size:64;index" json:"token"`

	// GameID is the caller-supplied game identifier, when present.
	GameID string `gorm:"size:64;index" json:"game_id,omitempty"`

	// Mode is the terminal path used (commentary or narrated).
	Mode RunMode `gorm:"not null;size:20" json:"mode"`

	// Status is the run outcome.
	Status RunStatus `gorm:"not null;size:20;index" json:"status"`

	// ItemCount is the number of rundown items submitted.
	ItemCount int `json:"item_count"`

	// SurvivedCount is the number of items present in the output.
	SurvivedCount int `json:"survived_count"`

	// StartedAt is when the run began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the run ended, successfully or not.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the wall-clock run duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// OutputPath is the published result path for completed runs.
	OutputPath string `gorm:"size:1024" json:"output_path,omitempty"`

	// LastError holds the terminal error message for failed runs.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ItemStatuses holds the JSON-encoded per-item status list
	// (including skipped transitions and dropped clips).
	ItemStatuses string `gorm:"type:text" json:"item_statuses,omitempty"`
}

// TableName returns the table name for Run.
func (Run) TableName() string {
	return "runs"
}

// IsTerminal reports whether the run reached a final state.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
