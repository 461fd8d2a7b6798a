package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ruteri/derived-key-session/interfaces"
)

// Callback routes served to the identity provider redirect.
const (
	CallbackPath = "/callback"
	CancelPath   = "/cancel"

	// errorParam, when present in a callback, marks the grant as failed.
	errorParam = "error"

	// maxBodySize limits form posted callbacks (64KB).
	maxBodySize = 64 * 1024
)

// GrantReceiver takes the result of a provider redirect. Deliver reports
// false when nothing is waiting for it.
type GrantReceiver interface {
	Deliver(result interfaces.GrantResult) bool
}

// Handler turns identity provider redirects into grant results.
type Handler struct {
	receiver GrantReceiver
	log      *slog.Logger
}

// NewHandler creates a callback handler delivering to receiver.
func NewHandler(receiver GrantReceiver, log *slog.Logger) *Handler {
	return &Handler{
		receiver: receiver,
		log:      log,
	}
}

// HandleCallback accepts the provider redirect. Parameters are read from the
// query string and, for POST, from the form body.
//
// URL format: GET|POST /callback?publicKeyBase58Check=...&derivedSeedHex=...
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		h.log.Error("Failed to parse callback", "err", err)
		http.Error(w, "Invalid callback parameters", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.Form))
	for name := range r.Form {
		params[name] = r.Form.Get(name)
	}

	result := interfaces.GrantResult{Type: interfaces.GrantSuccess, Params: params}
	if params[errorParam] != "" {
		result.Type = interfaces.GrantError
	}

	// Parameter values carry secrets; only names are logged.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	h.log.Debug("Received provider callback", slog.String("type", string(result.Type)), "params", names)

	h.deliver(w, result, "Authorization received, you can close this window.")
}

// HandleCancel aborts the pending grant.
//
// URL format: GET /cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, interfaces.GrantResult{Type: interfaces.GrantCancel}, "Authorization cancelled.")
}

func (h *Handler) deliver(w http.ResponseWriter, result interfaces.GrantResult, message string) {
	if !h.receiver.Deliver(result) {
		http.Error(w, "No authorization is pending", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  string(result.Type),
		"message": message,
	}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
