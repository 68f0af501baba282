package gate

import (
	"encoding/json"
	"net/http"
)

type checkResponse struct {
	Authenticated bool `json:"authenticated"`
}

// CheckHandler answers whether the request carries a session credential.
// It responds 200 {"authenticated":true} or 401 {"authenticated":false},
// always JSON, never a redirect. It has no side effects.
func (g *Gate) CheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authenticated := g.credential(r) != ""

		w.Header().Set("Content-Type", "application/json")
		if authenticated {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusUnauthorized)
		}
		json.NewEncoder(w).Encode(checkResponse{Authenticated: authenticated}) //nolint:errcheck
	}
}
