package describe

import "errors"

var (
	// ErrNoHostAvailable means no inference attempt was made because
	// every host was unavailable. The dispatcher treats it as a signal
	// to re-queue the job after a delay.
	ErrNoHostAvailable = errors.New("no inference host available")

	// ErrAllHostsFailed means every known host was tried for the job
	// and none produced a result. Permanent for the job.
	ErrAllHostsFailed = errors.New("all inference hosts failed")
)
