package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/hub"
	"github.com/DoyleJ11/cardtable-sync/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms", ListRooms(h))
	r.Delete("/rooms/{code}", DeleteRoom(h, log))
	r.Get("/healthz", Healthz)
	r.Get("/ws/{code}", ws.Handler(h, log))
	return r
}
