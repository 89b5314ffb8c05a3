package models

import "time"

// Origin records which producer discovered a job's image.
type Origin string

const (
	OriginScan  Origin = "scan"
	OriginWatch Origin = "watch"
)

// Job is one unit of work: one image paired with one prompt, tracked
// through retries to a terminal outcome. The dispatcher owns a job from
// submission until it succeeds, fails permanently, or is abandoned.
// Only Attempts and FirstWait mutate after creation.
type Job struct {
	Asset  Asset
	Prompt string
	Origin Origin

	// Attempts counts inference attempts made so far; it never exceeds
	// the number of hosts known when the job was dispatched.
	Attempts int

	// FirstWait is set the first time the job is parked because no host
	// was eligible. Jobs that wait past the configured ceiling fail
	// permanently instead of re-queuing.
	FirstWait time.Time
}
