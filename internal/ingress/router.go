// Copyright 2025 James Ross
package ingress

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Routes registers the §6 external surface on a fresh router: POST /v1/ask
// and GET /ws.
func Routes(h *Handler, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/ask", h.Ask).Methods(http.MethodPost)
	r.HandleFunc("/ws", h.WS(logger))
	return r
}
