package observability

import "github.com/rs/zerolog"

// ConnLogger scopes base to one websocket connection.
func ConnLogger(base zerolog.Logger, role, connID, remote string) zerolog.Logger {
	return base.With().
		Str("role", role).
		Str("conn", connID).
		Str("remote", remote).
		Logger()
}
