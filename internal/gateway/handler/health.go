package handler

import "net/http"

// Health answers liveness probes with the service name.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": service})
	}
}
