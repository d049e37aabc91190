package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codesync/internal/config"
	"codesync/internal/models"
	"codesync/internal/relay"
	"codesync/internal/session"
	"codesync/internal/utils"
)

type Handlers struct {
	log      *zap.Logger
	relay    *relay.Relay
	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewHandlers(log *zap.Logger, rel *relay.Relay, cfg *config.Config) *Handlers {
	return &Handlers{
		log:      log,
		relay:    rel,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// RoomStatus returns the participant set of a room in join order. A room
// with no participants does not exist.
func (h *Handlers) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if roomID == "" {
		utils.WriteError(w, http.StatusBadRequest, "roomId is required")
		return
	}

	status, ok := h.relay.RoomStatus(roomID)
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "room not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, status)
}

// MintRoomToken issues a signed access token for one username in one room.
func (h *Handlers) MintRoomToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.JWTSecret == "" {
		utils.WriteError(w, http.StatusServiceUnavailable, "token signing not configured")
		return
	}

	var req models.RoomTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" || req.Username == "" {
		utils.WriteError(w, http.StatusBadRequest, "roomId and username are required")
		return
	}

	token, err := utils.GenerateRoomToken(req.RoomID, req.Username, []byte(h.cfg.JWTSecret))
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.RoomTokenResponse{Token: token})
}

// CollabWS upgrades the connection, assigns it an opaque connection id and
// pumps inbound frames through the relay until the socket closes. The close
// notification drives the same leave path as an explicit disconnection
// event.
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	var claims *utils.RoomTokenClaims
	if h.cfg.RequireAuth {
		// browser websocket clients pass the token as a query parameter;
		// everything else may use a standard bearer header
		token := r.URL.Query().Get("access_token")
		if token == "" {
			token, _ = utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
		}
		if token == "" {
			http.Error(w, "missing access_token", http.StatusUnauthorized)
			return
		}
		var err error
		claims, err = utils.ValidateRoomToken(token, []byte(h.cfg.JWTSecret))
		if err != nil {
			h.log.Warn("rejected websocket with invalid token", zap.Error(err))
			http.Error(w, "invalid access_token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := session.NewClient(uuid.New().String(), conn)
	defer h.relay.Disconnect(client)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame models.RawFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			h.log.Warn("dropping unparseable frame", zap.String("conn", client.ID), zap.Error(err))
			continue
		}

		if claims != nil && frame.Type == models.EventJoinRequest && !joinMatchesClaims(frame.Data, claims) {
			h.log.Warn("dropping join outside token scope",
				zap.String("conn", client.ID), zap.String("room", claims.RoomID))
			continue
		}

		h.relay.Dispatch(client, frame)
	}
}

// joinMatchesClaims checks that an authenticated connection only joins the
// room and name its token was minted for.
func joinMatchesClaims(data json.RawMessage, claims *utils.RoomTokenClaims) bool {
	var req models.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return false
	}
	return req.RoomID == claims.RoomID && req.Username == claims.Username
}
