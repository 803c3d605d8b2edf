package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/hub"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

const codeLen = 6

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLen)
	for i := 0; i < codeLen; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createdRoom struct {
	Code   string `json:"code"`
	DeckID string `json:"deckId"`
}

// CreateRoom opens a room on a built-in preset, ?preset=<id>, standard by default.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presetID := r.URL.Query().Get("preset")
		if presetID == "" {
			presetID = deck.PresetStandard
		}
		preset, ok := deck.Builtin(presetID)
		if !ok {
			http.Error(w, "unknown preset", http.StatusBadRequest)
			return
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.Get(c) == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		if h.Ensure(code, engine.NewState(preset)) == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, createdRoom{Code: code, DeckID: preset.ID})
	}
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Rooms []string `json:"rooms"`
		}{Rooms: h.Codes()})
	}
}

// DeleteRoom closes a room, disconnecting its players, and forgets its
// snapshot.
func DeleteRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := protocol.CleanRoomCode(chi.URLParam(r, "code"))
		if code == "" || !h.Remove(code) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Info("room deleted", zap.String("room", code))
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
