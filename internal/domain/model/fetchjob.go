package model

import "time"

// FetchJob is one request to retrieve credentials from a set of providers.
// CompletedProviders + FailedProviders never exceeds TotalProviders.
type FetchJob struct {
	ID                 string
	OwnerID            string
	RunnerID           string // Instance running the job; empty for jobs from before runner tracking.
	Status             JobStatus
	ProviderIDs        []string
	TotalProviders     int
	CompletedProviders int
	FailedProviders    int
	Results            map[string]ProviderResult // Keyed by provider id.
	CancelRequested    bool
	ErrorMessage       string // Set only when the job failed for an infrastructure reason.
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Finished returns how many providers have reached an outcome.
func (j FetchJob) Finished() int {
	return j.CompletedProviders + j.FailedProviders
}

// ProviderResult records what happened to a single provider within a job.
type ProviderResult struct {
	ProviderID    string
	Status        ProviderStatus
	Attempts      int
	Error         string
	CredentialIDs []string
	ProxyID       string
	FinishedAt    *time.Time
}

// FetchedCredential is a plaintext secret returned by a provider automation.
type FetchedCredential struct {
	KeyType string
	Label   string
	Value   string
}
