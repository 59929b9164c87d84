package domain

import "time"

// JobKind distinguishes pitch-shift conversions from remote downloads.
type JobKind string

const (
	JobKindPitchShift JobKind = "pitch_shift"
	JobKindDownload   JobKind = "download"
)

// JobState tracks the lifecycle of a single job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// ProgressIndeterminate marks a job whose output has not yet produced
// any parseable progress.
const ProgressIndeterminate = -1.0

// JobRequest is an immutable job submission. Input is a file path for
// pitch-shift jobs and a URL for download jobs.
type JobRequest struct {
	ID           string       `json:"id"`
	Kind         JobKind      `json:"kind"`
	Input        string       `json:"input"`
	Semitones    int          `json:"semitones,omitempty"`
	OutputFormat OutputFormat `json:"outputFormat,omitempty"`
	OutputPath   string       `json:"outputPath,omitempty"`
	OutputDir    string       `json:"outputDir,omitempty"`
}

// Job is a point-in-time snapshot of one tracked job.
type Job struct {
	Request    JobRequest `json:"request"`
	State      JobState   `json:"state"`
	Progress   float64    `json:"progress"`
	ResultPath string     `json:"resultPath,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
	QueuedAt   time.Time  `json:"queuedAt"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}
