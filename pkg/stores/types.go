package stores

import "time"

// RunSummary is one row of the fleet-run history listing.
type RunSummary struct {
	ID          string
	Playbook    string
	Environment string
	Status      string
	HostCount   int
	StartedAt   time.Time
	Duration    time.Duration
}
