package httphandler

import (
	"net/http"
	"strings"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ListProxies returns the caller's proxy pool.
func (h *Handler) ListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := h.proxies.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list proxies")
		return
	}

	resp := make([]ProxyResponse, 0, len(proxies))
	for _, p := range proxies {
		resp = append(resp, toProxyResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddProxy adds one proxy, given either as a URL or as discrete fields.
func (h *Handler) AddProxy(w http.ResponseWriter, r *http.Request) {
	var req AddProxyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	owner := ownerFrom(r.Context())
	var (
		p   *model.ProxyEntry
		err error
	)
	if strings.TrimSpace(req.URL) != "" {
		p, err = h.proxies.AddFromURL(r.Context(), owner, req.URL, req.Label, model.ProxyType(req.Type))
	} else {
		p, err = h.proxies.Add(r.Context(), owner, application.AddProxyInput{
			Label:    req.Label,
			Protocol: model.ProxyProtocol(req.Protocol),
			Host:     req.Host,
			Port:     req.Port,
			Username: req.Username,
			Password: req.Password,
			Type:     model.ProxyType(req.Type),
			Country:  req.Country,
			City:     req.City,
		})
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to add proxy")
		return
	}

	writeJSON(w, http.StatusCreated, toProxyResponse(*p))
}

// ImportProxies bulk-adds proxies, one per line. Lines that do not parse are
// reported without failing the request.
func (h *Handler) ImportProxies(w http.ResponseWriter, r *http.Request) {
	var req ImportProxiesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	text := req.Text
	if len(req.URLs) > 0 {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += strings.Join(req.URLs, "\n")
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "no proxies supplied")
		return
	}

	added, failures, err := h.proxies.Import(r.Context(), ownerFrom(r.Context()), text, model.ProxyType(req.Type))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to import proxies", "added", len(added))
		return
	}

	resp := ImportProxiesResponse{
		Added:    make([]ProxyResponse, 0, len(added)),
		Failures: make([]ImportFailureResponse, 0, len(failures)),
	}
	for _, p := range added {
		resp.Added = append(resp.Added, toProxyResponse(p))
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, ImportFailureResponse{Line: f.Line, Reason: f.Reason})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RemoveProxy deletes a proxy from the caller's pool.
func (h *Handler) RemoveProxy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.proxies.Remove(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to remove proxy", "proxy_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestProxy runs a live probe through a proxy and records the outcome.
func (h *Handler) TestProxy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := h.proxies.Test(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to test proxy", "proxy_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toProxyTestResponse(*result))
}

// RecommendedProxies lists proxy vendors suggested by the provider catalog.
func (h *Handler) RecommendedProxies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.proxies.RecommendedProviders())
}

// ListProviders returns the provider catalog.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.proxies.Providers())
}

// ProviderRequirements returns one provider's key types and proxy requirement.
func (h *Handler) ProviderRequirements(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.proxies.Requirements(id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load provider requirements", "provider", id)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
