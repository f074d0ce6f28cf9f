// internal/httpapi/handlers.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"credhost/pkg/tokens"
)

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// targetParam parses the ?target= query attribute; empty or malformed values
// are caller errors.
func targetParam(r *http.Request) (tokens.Target, error) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return tokens.Target{}, errors.New("missing target")
	}
	return tokens.ParseTarget(raw)
}

// GET /v1/credentials?target=
func (a *App) getCredentials(w http.ResponseWriter, r *http.Request) {
	target, err := targetParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, ok := a.brokerFor(r, target)
	if !ok {
		http.Error(w, "target not managed by this authority", http.StatusNotFound)
		return
	}
	cred, found := b.GetCredentials(target)
	if !found {
		http.Error(w, "no stored credential", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"username": cred.Username, "password": cred.Secret}, http.StatusOK)
}

// DELETE /v1/credentials?target=
func (a *App) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	target, err := targetParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, ok := a.brokerFor(r, target)
	if !ok {
		http.Error(w, "target not managed by this authority", http.StatusNotFound)
		return
	}
	b.DeleteCredentials(target)
	w.WriteHeader(http.StatusNoContent)
}

type refreshBody struct {
	Target  string `json:"target"`
	Compact bool   `json:"compact"`
}

// POST /v1/credentials/refresh
func (a *App) refreshCredentials(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	target, err := tokens.ParseTarget(body.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, ok := a.brokerFor(r, target)
	if !ok {
		http.Error(w, "target not managed by this authority", http.StatusNotFound)
		return
	}
	refreshed, err := b.RefreshCredentials(r.Context(), target, body.Compact)
	if err != nil {
		// Only cancellation/deadline reaches here.
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "refresh timed out", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "request cancelled", 499)
		return
	}
	writeJSON(w, map[string]any{"refreshed": refreshed, "tenant_id": b.Tenant().String(), "variant": b.Kind().String()}, http.StatusOK)
}

type validateBody struct {
	Target   string `json:"target"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// POST /v1/credentials/validate
func (a *App) validateCredentials(w http.ResponseWriter, r *http.Request) {
	var body validateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	target, err := tokens.ParseTarget(body.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, ok := a.brokerFor(r, target)
	if !ok {
		http.Error(w, "target not managed by this authority", http.StatusNotFound)
		return
	}
	valid := b.ValidateCredentials(r.Context(), target, tokens.Credential{Username: body.Username, Secret: body.Secret})
	writeJSON(w, map[string]bool{"valid": valid}, http.StatusOK)
}

type tokenBody struct {
	Target string `json:"target"`
	Token  string `json:"token"`
	Tenant string `json:"tenant,omitempty"`
}

func (a *App) parseTokenBody(r *http.Request) (tokens.Target, tokenBody, error) {
	var body tokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return tokens.Target{}, body, errors.New("bad json")
	}
	if body.Token == "" {
		return tokens.Target{}, body, errors.New("missing token")
	}
	target, err := tokens.ParseTarget(body.Target)
	return target, body, err
}

// POST /v1/tokens/refresh — persist a refresh token for later exchanges.
func (a *App) storeRefreshToken(w http.ResponseWriter, r *http.Request) {
	target, body, err := a.parseTokenBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, ok := a.brokerFor(r, target)
	if !ok {
		http.Error(w, "target not managed by this authority", http.StatusNotFound)
		return
	}
	tok := tokens.NewTenantToken(body.Token, tokens.TypeRefresh, b.Tenant())
	b.StoreRefreshToken(target, tok)
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/tokens/federated — seed the IDE-provided token cache.
func (a *App) storeFederatedToken(w http.ResponseWriter, r *http.Request) {
	if a.deps.FederatedCache == nil {
		http.Error(w, "federated cache not configured", http.StatusNotImplemented)
		return
	}
	target, body, err := a.parseTokenBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.deps.FederatedCache.WriteToken(target, tokens.NewToken(body.Token, tokens.TypeFederated))
	w.WriteHeader(http.StatusNoContent)
}
