package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ptz-presets/events"
	"ptz-presets/snap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is used in both directions. Clients send press, motion and
// release while dragging a preset on a camera's panel; the server sends
// event, snap, drop and error.
type wsMessage struct {
	Type   string `json:"type"`
	Camera string `json:"camera,omitempty"`

	// press
	Index int `json:"index,omitempty"`
	// motion, release
	Geometry *snap.Geometry `json:"geometry,omitempty"`
	Y        float64        `json:"y,omitempty"`

	Event     *events.Event  `json:"event,omitempty"`
	Feedback  *snap.Feedback `json:"feedback,omitempty"`
	Reordered bool           `json:"reordered,omitempty"`
	Order     []panelEntry   `json:"order,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (h *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// gorilla/websocket forbids concurrent writes.
	var writeMu sync.Mutex
	writeMsg := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	// Subscribe before replaying so nothing published in between is lost.
	// An event can then arrive twice; clients dedupe on the event id.
	id, live := h.bus.Subscribe(256)
	defer h.bus.Unsubscribe(id)

	for _, e := range h.bus.Recent() {
		e := e
		if err := writeMsg(wsMessage{Type: "event", Event: &e}); err != nil {
			log.Printf("WS history replay error: %v", err)
			return
		}
	}

	// Goroutine: pump live events to the client.
	// Exits when Unsubscribe closes the channel.
	go func() {
		for e := range live {
			e := e
			if err := writeMsg(wsMessage{Type: "event", Event: &e}); err != nil {
				return
			}
		}
	}()

	g := &gesture{h: h, drag: snap.NewDrag(h.snapDistance)}

	// Main loop: read client messages.
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		reply, ok := g.handle(msg)
		if !ok {
			continue
		}
		if err := writeMsg(reply); err != nil {
			return
		}
	}
}

// gesture is the drag state of one websocket connection.
type gesture struct {
	h      *handler
	drag   *snap.Drag
	camera string
}

func (g *gesture) handle(msg wsMessage) (wsMessage, bool) {
	switch msg.Type {
	case "press":
		if _, err := g.h.fleet.Get(msg.Camera); err != nil {
			return wsMessage{Type: "error", Camera: msg.Camera, Error: err.Error()}, true
		}
		g.camera = msg.Camera
		g.drag.Press(msg.Index)
		return wsMessage{}, false

	case "motion":
		if msg.Geometry == nil {
			return wsMessage{Type: "error", Camera: g.camera, Error: "motion without geometry"}, true
		}
		fb, err := g.drag.Motion(*msg.Geometry, msg.Y)
		if err != nil {
			return wsMessage{Type: "error", Camera: g.camera, Error: err.Error()}, true
		}
		if !g.drag.Active() {
			return wsMessage{}, false
		}
		return wsMessage{Type: "snap", Camera: g.camera, Feedback: &fb}, true

	case "release":
		drop, ok := g.drag.Release(msg.Y)
		if !ok {
			return wsMessage{Type: "drop", Camera: g.camera}, true
		}
		s, err := g.h.fleet.Get(g.camera)
		if err != nil {
			return wsMessage{Type: "error", Camera: g.camera, Error: err.Error()}, true
		}
		if err := g.h.applyDrop(s, drop.From, drop.To); err != nil {
			return wsMessage{Type: "error", Camera: g.camera, Error: err.Error()}, true
		}
		return wsMessage{Type: "drop", Camera: g.camera, Reordered: true, Order: g.h.panel(s, "")}, true
	}
	return wsMessage{}, false
}
