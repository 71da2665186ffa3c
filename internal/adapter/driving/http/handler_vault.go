package httphandler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ListCredentials returns credential metadata for the caller.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.vault.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list credentials")
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, toCredentialResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// PutCredential stores a new credential or rotates an existing one.
func (h *Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	var req PutCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := h.vault.Put(r.Context(), ownerFrom(r.Context()), application.PutInput{
		ProviderID: req.ProviderID,
		KeyType:    req.KeyType,
		Label:      req.Label,
		Value:      req.Value,
		ChangeType: model.ChangeType(req.ChangeType),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to store credential", "provider", req.ProviderID, "key_type", req.KeyType)
		return
	}

	status := http.StatusOK
	if cred.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toCredentialResponse(*cred))
}

// DeleteCredential soft-deletes a credential.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.vault.Delete(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete credential", "credential_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevealCredential returns the decrypted value of a credential.
func (h *Handler) RevealCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	value, err := h.vault.Reveal(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to reveal credential", "credential_id", id)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, RevealResponse{ID: id, Value: value})
}

// CredentialHistory returns a credential's history, newest first.
func (h *Handler) CredentialHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entries, err := h.vault.History(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list credential history", "credential_id", id)
		return
	}

	resp := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toHistoryEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddNote appends a manual_update history entry carrying a note.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.vault.AddNote(r.Context(), ownerFrom(r.Context()), id, req.Note)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to add note", "credential_id", id)
		return
	}

	writeJSON(w, http.StatusCreated, toHistoryEntryResponse(*entry))
}

// Rollback restores the value captured by a history entry.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cred, err := h.vault.Rollback(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to roll back credential", "history_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(*cred))
}

// VaultSummary counts history entries by change type over ?days= (default 30).
func (h *Handler) VaultSummary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	counts, err := h.vault.DiffSummary(r.Context(), ownerFrom(r.Context()), days)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to summarize vault")
		return
	}

	if days == 0 {
		days = 30
	}
	resp := VaultSummaryResponse{WindowDays: days, Counts: make(map[string]int, len(model.AllChangeTypes))}
	for _, ct := range model.AllChangeTypes {
		resp.Counts[string(ct)] = counts[ct]
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportVault streams every live credential, decrypted, as json, env or csv.
func (h *Handler) ExportVault(w http.ResponseWriter, r *http.Request) {
	format, err := application.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, h.logger, err, "invalid export format")
		return
	}

	data, err := h.vault.Export(r.Context(), ownerFrom(r.Context()), format)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to export vault", "format", format)
		return
	}

	w.Header().Set("Content-Type", exportContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="keyfetch-export.%s"`, format))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func exportContentType(f model.ExportFormat) string {
	switch f {
	case model.ExportCSV:
		return "text/csv; charset=utf-8"
	case model.ExportEnv:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}
