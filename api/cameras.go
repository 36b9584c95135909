package api

import (
	"net/http"

	"ptz-presets/camera"
)

func (h *handler) listCameras(w http.ResponseWriter, r *http.Request) {
	sessions := h.fleet.List()
	infos := make([]camera.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func commitMode(r *http.Request) camera.CommitMode {
	switch r.URL.Query().Get("force") {
	case "1", "true", "yes":
		return camera.CommitForce
	}
	return camera.CommitAtPreset
}

// commitFleet answers with the committed and failed tokens of every
// camera, also when some of them failed.
func (h *handler) commitFleet(w http.ResponseWriter, r *http.Request) {
	results, err := h.fleet.CommitAll(r.Context(), commitMode(r))
	writeJSON(w, commitStatus(err), results)
}

func (h *handler) refreshFleet(w http.ResponseWriter, r *http.Request) {
	if err := h.fleet.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.listCameras(w, r)
}

func (h *handler) commitCamera(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	done, err := s.CommitAll(r.Context(), commitMode(r))
	writeJSON(w, commitStatus(err), camera.NewCommitResult(done, err))
}

func commitStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return errorStatus(err)
}

func (h *handler) refreshCamera(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.panel(s, ""))
}

func (h *handler) getLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.layout.Get())
}
