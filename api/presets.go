package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"ptz-presets/camera"
	"ptz-presets/events"
	"ptz-presets/preset"
)

// panelEntry is a preset as shown on a camera's panel.
type panelEntry struct {
	preset.Entry
	Index   int  `json:"index"`
	Current bool `json:"current,omitempty"`
}

// panel returns the presets of s in panel order, filtered by query.
func (h *handler) panel(s *camera.Session, query string) []panelEntry {
	byToken := make(map[string]preset.Entry)
	for _, e := range s.Presets() {
		byToken[e.Token] = e
	}
	current := s.Current()
	order := h.layout.Order(s.Name(), s.Store().Order())
	entries := make([]panelEntry, 0, len(order))
	for i, token := range order {
		entries = append(entries, panelEntry{Entry: byToken[token], Index: i, Current: token == current})
	}
	return filterEntries(entries, query)
}

// filterEntries keeps the entries whose name fuzzily matches query, in
// panel order. Index still refers to the unfiltered panel.
func filterEntries(entries []panelEntry, query string) []panelEntry {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return entries
	}
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.Name
	}
	matches := make(map[int]struct{})
	for _, rank := range fuzzy.RankFindNormalizedFold(trimmed, labels) {
		matches[rank.OriginalIndex] = struct{}{}
	}
	filtered := make([]panelEntry, 0, len(matches))
	for i, e := range entries {
		if _, ok := matches[i]; ok {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func (h *handler) listPresets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.panel(s, r.URL.Query().Get("q")))
}

type nameRequest struct {
	Name string `json:"name"`
}

// decodeName reads an optional {"name"} body. An empty body is allowed.
func decodeName(r *http.Request) (string, bool) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", false
	}
	return strings.TrimSpace(req.Name), true
}

func (h *handler) addPreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	name, ok := decodeName(r)
	if !ok {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	entry, err := s.Add(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) renamePreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	name, ok := decodeName(r)
	if !ok || name == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token := chi.URLParam(r, "token")
	pending, err := s.Rename(r.Context(), token, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preset.Entry{Token: token, Name: name, Pending: pending})
}

func (h *handler) deletePreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	if err := s.Delete(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	if err := h.layout.Remove(s.Name(), token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) gotoPreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Goto(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *handler) savePreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	name, ok := decodeName(r)
	if !ok {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token := chi.URLParam(r, "token")
	saved, err := s.Save(r.Context(), token, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preset.Entry{Token: token, Name: saved})
}

func (h *handler) commitPreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	committed, err := s.Commit(r.Context(), token, commitMode(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"committed": committed})
}

func (h *handler) reorder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		From *int `json:"from"`
		To   *int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == nil || req.To == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.applyDrop(s, *req.From, *req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.panel(s, ""))
}

// applyDrop moves a panel entry and persists the new order.
func (h *handler) applyDrop(s *camera.Session, from, to int) error {
	order, err := h.layout.Reorder(s.Name(), s.Store().Order(), from, to)
	if err != nil {
		return err
	}
	at := to
	if to > from {
		at = to - 1
	}
	h.bus.Publish(events.Event{Kind: events.KindReorder, Camera: s.Name(), Token: order[at]})
	return nil
}
