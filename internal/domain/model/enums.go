package model

// JobStatus is the lifecycle state of a fetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ProviderStatus is the outcome of one provider within a fetch job.
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusSucceeded ProviderStatus = "succeeded"
	ProviderStatusFailed    ProviderStatus = "failed"
	ProviderStatusSkipped   ProviderStatus = "skipped" // Never attempted because the job was cancelled.
)

// ProxyProtocol is the wire protocol spoken to a proxy.
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// Valid reports whether p is a supported protocol.
func (p ProxyProtocol) Valid() bool {
	return p == ProxyHTTP || p == ProxyHTTPS || p == ProxySOCKS5
}

// ProxyType describes where a proxy's egress IP comes from.
type ProxyType string

const (
	ProxyResidential ProxyType = "residential"
	ProxyDatacenter  ProxyType = "datacenter"
	ProxyMobile      ProxyType = "mobile"
	ProxyISP         ProxyType = "isp"
)

// Valid reports whether t is a known proxy type.
func (t ProxyType) Valid() bool {
	switch t {
	case ProxyResidential, ProxyDatacenter, ProxyMobile, ProxyISP:
		return true
	}
	return false
}

// Frequency is a schedule recurrence cadence.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// NeedsDayOfWeek reports whether the cadence is pinned to a weekday.
func (f Frequency) NeedsDayOfWeek() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly
}

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// WatchStatus is the stored status of a credential watch.
type WatchStatus string

const (
	WatchStatusActive    WatchStatus = "active"
	WatchStatusDismissed WatchStatus = "dismissed"
)
