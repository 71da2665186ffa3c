package driven

import (
	"context"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ProviderAutomation runs one credential retrieval attempt against a
// provider. Implementations must honour ctx cancellation and deadlines.
type ProviderAutomation interface {
	Attempt(ctx context.Context, providerID string, login map[string]string, proxy *model.ProxyEntry) ([]model.FetchedCredential, error)
}

// CredentialVerifier checks that a freshly fetched credential actually works.
// Supports reports which provider/key type pairs the verifier understands.
type CredentialVerifier interface {
	Supports(providerID, keyType string) bool
	Verify(ctx context.Context, cred model.FetchedCredential) error
}

// ProxyProber performs a live connectivity and geolocation check through a proxy.
type ProxyProber interface {
	Probe(ctx context.Context, p model.ProxyEntry) (model.ProxyTestResult, error)
}

// Notifier delivers application events. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, event model.Event) error
}
