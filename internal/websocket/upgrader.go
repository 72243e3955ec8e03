package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// DefaultAllowedOrigins are the front-end origins accepted out of the box.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"https://localhost:3000",
	"http://127.0.0.1:3000",
	"https://app.lexidraft.com",
}

// NewUpgrader builds an upgrader that accepts the given origins, any
// localhost variant, and requests without an Origin header (non-browser
// clients). A "*" entry accepts every origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			return strings.Contains(origin, "://localhost") || strings.Contains(origin, "://127.0.0.1")
		},
	}
}
