package host

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/worldhost/worldhost/pkg/network/httpx"
)

func (h *Host) routes(mux *httpx.Mux) *httpx.Mux {
	return mux.
		HandleFunc("/ws", h.hub.handleWebsocket).
		HandleFunc("GET /worlds/{world}/players", h.handlePlayerCount).
		HandleFunc("GET /worlds", h.handleRooms).
		HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

// handlePlayerCount answers with zero players for worlds without a room.
func (h *Host) handlePlayerCount(w http.ResponseWriter, r *http.Request) {
	world := r.PathValue("world")
	writeJSON(w, RoomInfo{World: world, Players: h.registry.PlayerCount(world)})
}

func (h *Host) handleRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := h.registry.Rooms()
	if rooms == nil {
		rooms = []RoomInfo{}
	}
	writeJSON(w, rooms)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
