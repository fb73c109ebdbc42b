package jobsched

import (
	"context"
	"time"
)

// Backend represents the interface for durable storage of persisted jobs.
// Only jobs with JobInfo.Persisted set are written to a backend.
// Implementations must be thread-safe.
type Backend interface {
	// LoadJobs returns every stored job status
	LoadJobs(ctx context.Context) ([]*JobStatus, error)

	// SaveJob stores a job status, replacing any record with the same job ID
	SaveJob(ctx context.Context, job *JobStatus) error

	// DeleteJob removes the record for jobID. Deleting an unknown ID is not an error.
	DeleteJob(ctx context.Context, jobID int) error

	// Close closes the backend connection
	Close() error
}

// jobRecord is the serialized form of a JobStatus shared by the backends.
type jobRecord struct {
	ID                   int           `json:"id"`
	Service              string        `json:"service"`
	Extras               []byte        `json:"extras,omitempty"`
	RequiresConnectivity bool          `json:"requires_connectivity,omitempty"`
	RequiresUnmetered    bool          `json:"requires_unmetered,omitempty"`
	RequiresCharging     bool          `json:"requires_charging,omitempty"`
	RequiresIdle         bool          `json:"requires_idle,omitempty"`
	MinLatency           time.Duration `json:"min_latency,omitempty"`
	OverrideDeadline     time.Duration `json:"override_deadline,omitempty"`
	Period               time.Duration `json:"period,omitempty"`
	BackoffPolicy        BackoffPolicy `json:"backoff_policy"`
	InitialBackoff       time.Duration `json:"initial_backoff,omitempty"`
	EarliestRunTime      *time.Time    `json:"earliest_run_time,omitempty"`
	LatestRunTime        *time.Time    `json:"latest_run_time,omitempty"`
	NumFailures          int           `json:"num_failures,omitempty"`
}

func recordFromStatus(js *JobStatus) *jobRecord {
	j := js.Job
	rec := &jobRecord{
		ID:                   j.ID,
		Service:              j.Service,
		Extras:               j.Extras,
		RequiresConnectivity: j.RequiresConnectivity,
		RequiresUnmetered:    j.RequiresUnmetered,
		RequiresCharging:     j.RequiresCharging,
		RequiresIdle:         j.RequiresIdle,
		MinLatency:           j.MinLatency,
		OverrideDeadline:     j.OverrideDeadline,
		Period:               j.Period,
		BackoffPolicy:        j.BackoffPolicy,
		InitialBackoff:       j.InitialBackoff,
		NumFailures:          js.NumFailures,
	}
	if !js.EarliestRunTime.IsZero() {
		t := js.EarliestRunTime
		rec.EarliestRunTime = &t
	}
	if !js.LatestRunTime.IsZero() {
		t := js.LatestRunTime
		rec.LatestRunTime = &t
	}
	return rec
}

func (rec *jobRecord) toStatus() *JobStatus {
	js := &JobStatus{
		Job: &JobInfo{
			ID:                   rec.ID,
			Service:              rec.Service,
			Extras:               rec.Extras,
			RequiresConnectivity: rec.RequiresConnectivity,
			RequiresUnmetered:    rec.RequiresUnmetered,
			RequiresCharging:     rec.RequiresCharging,
			RequiresIdle:         rec.RequiresIdle,
			Persisted:            true,
			MinLatency:           rec.MinLatency,
			OverrideDeadline:     rec.OverrideDeadline,
			Period:               rec.Period,
			BackoffPolicy:        rec.BackoffPolicy,
			InitialBackoff:       rec.InitialBackoff,
		},
		NumFailures: rec.NumFailures,
	}
	if rec.EarliestRunTime != nil {
		js.EarliestRunTime = *rec.EarliestRunTime
	}
	if rec.LatestRunTime != nil {
		js.LatestRunTime = *rec.LatestRunTime
	}
	return js
}

// cloneStatus returns a copy safe to hand out of a backend.
func cloneStatus(js *JobStatus) *JobStatus {
	c := *js
	c.Job = js.Job.clone()
	return &c
}
