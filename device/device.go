// Package device describes the remote preset API of a PTZ camera and ships
// the gateways that speak it.
package device

import (
	"context"
	"errors"
	"fmt"
)

// Position is a physical pan/tilt/zoom setting. It is owned by the camera;
// callers only compare positions for equality.
type Position struct {
	Pan  float64 `json:"pan" xml:"azimuth"`
	Tilt float64 `json:"tilt" xml:"elevation"`
	Zoom float64 `json:"zoom" xml:"absoluteZoom"`
}

// Preset is a named, tokened position stored on the camera.
type Preset struct {
	Token    string    `json:"token"`
	Name     string    `json:"name"`
	Position *Position `json:"position,omitempty"`
}

// Status is the camera's current physical state.
type Status struct {
	Position Position `json:"position"`
}

// SetRequest overwrites the preset identified by Token with the camera's
// current position. An empty Token creates a new preset; an empty Name lets
// the camera pick one.
type SetRequest struct {
	Token string
	Name  string
}

// Gateway is a connected session to one physical camera. All calls block
// until the camera answers.
type Gateway interface {
	ListProfiles(ctx context.Context) ([]string, error)
	ListPresets(ctx context.Context, profile string) ([]Preset, error)
	SetPreset(ctx context.Context, profile string, req SetRequest) (string, error)
	GotoPreset(ctx context.Context, profile, token string) error
	RemovePreset(ctx context.Context, profile, token string) error
	GetStatus(ctx context.Context, profile string) (Status, error)
}

const (
	OpListProfiles = "list_profiles"
	OpListPresets  = "list_presets"
	OpSetPreset    = "set_preset"
	OpGotoPreset   = "goto_preset"
	OpRemovePreset = "remove_preset"
	OpGetStatus    = "get_status"
)

// ErrNoProfile is returned when a camera exposes no PTZ profile.
var ErrNoProfile = errors.New("camera has no ptz profile")

// CallError reports a failed gateway call.
type CallError struct {
	Op    string
	Token string
	Err   error
}

func (e *CallError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Token, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func callError(op, token string, err error) error {
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Op: op, Token: token, Err: err}
}
