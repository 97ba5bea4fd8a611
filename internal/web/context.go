package web

import (
	"net/http"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// principalOf returns the principal the auth middleware attached, or nil
// when authentication is disabled. The importer treats nil as the system
// principal.
func principalOf(r *http.Request) *core.Principal {
	p, _ := core.PrincipalFromContext(r.Context())
	return p
}
