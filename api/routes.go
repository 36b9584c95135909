package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ptz-presets/camera"
	"ptz-presets/device"
	"ptz-presets/events"
	"ptz-presets/layout"
	"ptz-presets/preset"
	"ptz-presets/snap"
)

// RegisterRoutes returns the HTTP handler for the preset control API.
// snapDistance is the threshold used by drag gestures on the websocket.
func RegisterRoutes(fleet *camera.Fleet, lm *layout.Manager, bus *events.Bus, snapDistance float64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &handler{fleet: fleet, layout: lm, bus: bus, snapDistance: snapDistance}

	// Fleet
	r.Get("/api/cameras", h.listCameras)
	r.Post("/api/commit", h.commitFleet)
	r.Post("/api/refresh", h.refreshFleet)
	r.Get("/api/layout", h.getLayout)

	// One camera
	r.Route("/api/cameras/{camera}", func(r chi.Router) {
		r.Post("/commit", h.commitCamera)
		r.Post("/refresh", h.refreshCamera)
		r.Put("/order", h.reorder)

		r.Get("/presets", h.listPresets)
		r.Post("/presets", h.addPreset)
		r.Put("/presets/{token}", h.renamePreset)
		r.Delete("/presets/{token}", h.deletePreset)
		r.Post("/presets/{token}/goto", h.gotoPreset)
		r.Post("/presets/{token}/save", h.savePreset)
		r.Post("/presets/{token}/commit", h.commitPreset)
	})

	// WebSocket
	r.Get("/api/events/ws", h.handleWS)

	return r
}

type handler struct {
	fleet        *camera.Fleet
	layout       *layout.Manager
	bus          *events.Bus
	snapDistance float64
}

// session resolves the {camera} URL parameter, answering 404 itself when
// the camera is unknown.
func (h *handler) session(w http.ResponseWriter, r *http.Request) (*camera.Session, bool) {
	s, err := h.fleet.Get(chi.URLParam(r, "camera"))
	if err != nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps core errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, errorText(err), errorStatus(err))
}

func errorStatus(err error) int {
	var ce *device.CallError
	switch {
	case errors.Is(err, camera.ErrNotFound), errors.Is(err, preset.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrNotAtPreset):
		return http.StatusConflict
	case errors.Is(err, snap.ErrStaleGeometry), errors.Is(err, snap.ErrIndex):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, camera.ErrNotFound):
		return "camera not found"
	case errors.Is(err, preset.ErrUnknownToken):
		return "preset not found"
	default:
		return err.Error()
	}
}
