package handler

import (
	"net/http"

	"github.com/hologram-chat/rendezvous-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
