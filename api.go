package main

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	PlayerName string `json:"player_name"`
	IsObserver bool   `json:"is_observer"`
}

type joinRoomResponse struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

type apiError struct {
	Error string `json:"error"`
}

type apiMessage struct {
	Message string `json:"message"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeActionError(cfg *Config, w http.ResponseWriter, err error) {
	writeJSON(cfg, w, httpStatus(err), apiError{Error: err.Error()})
}

func createRoomHandler(cfg *Config, registry *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeActionError(cfg, w, validationError("malformed request body"))
			return
		}

		room, err := registry.Create(req.Name)
		if err != nil {
			writeActionError(cfg, w, err)
			return
		}

		logf(cfg, "ROOMS: Created room %s (%q)", room.ID(), req.Name)

		writeJSON(cfg, w, http.StatusCreated, room.Summary())
	}
}

func listRoomsHandler(cfg *Config, registry *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, registry.List())
	}
}

func getRoomHandler(cfg *Config, registry *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := registry.Get(ps.ByName("roomid"))
		if !ok {
			writeActionError(cfg, w, notFoundError("room not found"))
			return
		}

		writeJSON(cfg, w, http.StatusOK, room.Summary())
	}
}

// joinRoomHandler is reconnect-aware: joining with the name of a
// disconnected player hands back that player's id.
func joinRoomHandler(cfg *Config, registry *RoomRegistry, hub *ConnectionHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		room, ok := registry.Get(roomID)
		if !ok {
			writeActionError(cfg, w, notFoundError("room not found"))
			return
		}

		var req joinRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeActionError(cfg, w, validationError("malformed request body"))
			return
		}

		player, err := room.Join(req.PlayerName, req.IsObserver)
		if err != nil {
			writeActionError(cfg, w, err)
			return
		}

		logf(cfg, "ROOMS: Player %q joined room %s", player.Name, roomID)

		hub.Broadcast(roomID)

		writeJSON(cfg, w, http.StatusOK, joinRoomResponse{
			RoomID:     roomID,
			PlayerID:   player.ID,
			PlayerName: player.Name,
		})
	}
}

// deleteRoomHandler removes the room and force-closes its channels.
// Deleting an absent room reports success, to tolerate racing
// double-deletes.
func deleteRoomHandler(cfg *Config, registry *RoomRegistry, hub *ConnectionHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		if registry.Delete(roomID) {
			hub.closeRoom(roomID)
			logf(cfg, "ROOMS: Deleted room %s", roomID)
		}

		writeJSON(cfg, w, http.StatusOK, apiMessage{Message: "room deleted"})
	}
}

// registerPokerAPI sets up routes so that:
//   - /api/rooms                → create (POST) / list (GET)
//   - /api/rooms/:roomid        → get (GET) / delete (DELETE)
//   - /api/rooms/:roomid/join   → join or reconnect (POST)
//   - /ws/:roomid/:playerid     → per-player websocket
//   - /room/:roomid             → HTML shell
//   - /room/:roomid/qr          → PNG QR code for that room URL
func registerPokerAPI(cfg *Config, mux *httprouter.Router, registry *RoomRegistry, hub *ConnectionHub) {
	mux.POST(cfg.prefix+"/api/rooms", createRoomHandler(cfg, registry))
	mux.GET(cfg.prefix+"/api/rooms", listRoomsHandler(cfg, registry))
	mux.GET(cfg.prefix+"/api/rooms/:roomid", getRoomHandler(cfg, registry))
	mux.POST(cfg.prefix+"/api/rooms/:roomid/join", joinRoomHandler(cfg, registry, hub))
	mux.DELETE(cfg.prefix+"/api/rooms/:roomid", deleteRoomHandler(cfg, registry, hub))

	mux.GET(cfg.prefix+"/ws/:roomid/:playerid", serveWS(cfg, hub))

	mux.GET(cfg.prefix+"/room/:roomid", serveRoomPage(cfg, registry))
	mux.GET(cfg.prefix+"/room/:roomid/qr", qrHandler)
}
