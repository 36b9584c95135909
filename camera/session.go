// Package camera ties one camera's gateway and preset store together and
// runs every camera of a site side by side.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ptz-presets/device"
	"ptz-presets/events"
	"ptz-presets/logging"
	"ptz-presets/preset"
)

var (
	ErrNotFound    = errors.New("camera not found")
	ErrNotAtPreset = errors.New("camera is not at the preset")
)

// CommitMode selects how a pending rename reaches the camera.
type CommitMode int

const (
	// CommitAtPreset only commits the preset the camera was last sent to.
	CommitAtPreset CommitMode = iota
	// CommitForce moves the camera to the preset first, whatever its
	// current position.
	CommitForce
)

// ConnectionError is returned when a camera session cannot be set up.
type ConnectionError struct {
	Camera string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Camera, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommitResult lists the tokens a commit-all wrote and the ones whose
// renames failed and stay pending.
type CommitResult struct {
	Committed []string `json:"committed"`
	Failed    []string `json:"failed"`
	Error     string   `json:"error,omitempty"`
}

// NewCommitResult sorts the outcome of CommitAll into a CommitResult.
func NewCommitResult(done []string, err error) CommitResult {
	res := CommitResult{Committed: append([]string{}, done...), Failed: []string{}}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	for _, e := range unjoin(err) {
		var ce *preset.CommitError
		if errors.As(e, &ce) {
			res.Failed = append(res.Failed, ce.Token)
		}
	}
	return res
}

// Info summarizes a session for listing.
type Info struct {
	Name    string `json:"name"`
	Current string `json:"current,omitempty"`
	Presets int    `json:"presets"`
	Pending int    `json:"pending"`
}

// Session controls the presets of one camera. It remembers the preset the
// camera was last sent to and decides from it whether a rename can be
// written right away. Mutating calls are serialized; different sessions
// never wait on each other.
type Session struct {
	op sync.Mutex

	mu      sync.RWMutex
	current string

	name  string
	store *preset.Store
	bus   events.Publisher
}

// Open connects to a camera on its first PTZ profile. See OpenProfile.
func Open(ctx context.Context, name string, gw device.Gateway, bus events.Publisher) (*Session, error) {
	return OpenProfile(ctx, name, "", gw, bus)
}

// OpenProfile connects to a camera, loads its presets and works out which
// preset it is standing at. An empty profile selects the first one the
// camera reports. Any failure returns a *ConnectionError and no session.
func OpenProfile(ctx context.Context, name, profile string, gw device.Gateway, bus events.Publisher) (*Session, error) {
	if bus == nil {
		bus = events.Discard
	}
	fail := func(err error) (*Session, error) {
		return nil, &ConnectionError{Camera: name, Err: err}
	}

	profiles, err := gw.ListProfiles(ctx)
	if err != nil {
		return fail(err)
	}
	if len(profiles) == 0 {
		return fail(device.ErrNoProfile)
	}
	if profile == "" {
		profile = profiles[0]
	} else if !contains(profiles, profile) {
		return fail(fmt.Errorf("%w: %s", device.ErrNoProfile, profile))
	}

	store := preset.NewStore(gw, profile)
	if err := store.Refresh(ctx); err != nil {
		return fail(err)
	}
	current, _, err := store.Locate(ctx)
	if err != nil {
		return fail(err)
	}

	s := &Session{name: name, store: store, bus: bus, current: current}
	logging.Trace("camera.open", map[string]interface{}{"camera": name, "profile": profile, "current": current})
	bus.Publish(events.Event{Kind: events.KindConnect, Camera: name, Token: current})
	return s, nil
}

// Name returns the camera name.
func (s *Session) Name() string {
	return s.name
}

// Current returns the token the camera was last confirmed to be at, or "".
func (s *Session) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Session) setCurrent(token string) {
	s.mu.Lock()
	s.current = token
	s.mu.Unlock()
}

// Store exposes the session's preset store for reads.
func (s *Session) Store() *preset.Store {
	return s.store
}

// Presets returns the presets in camera order.
func (s *Session) Presets() []preset.Entry {
	return s.store.List()
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	return Info{
		Name:    s.name,
		Current: s.Current(),
		Presets: len(s.store.Order()),
		Pending: len(s.store.Pending()),
	}
}

// Goto sends the camera to token. Current is only updated once the camera
// confirms the move. A rename waiting for this preset is committed while
// the camera stands there.
func (s *Session) Goto(ctx context.Context, token string) error {
	s.op.Lock()
	defer s.op.Unlock()

	if err := s.store.Goto(ctx, token); err != nil {
		return s.fail(token, err)
	}
	s.setCurrent(token)
	name, _ := s.store.Name(token)
	s.publish(events.KindGoto, token, name, false)

	if s.store.IsPending(token) {
		if err := s.commit(ctx, token, false); err != nil {
			return err
		}
	}
	return nil
}

// Save stores the camera's current position under token, keeping its name
// unless name is set. The camera is then at token.
func (s *Session) Save(ctx context.Context, token, name string) (string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	saved, err := s.store.Save(ctx, token, name)
	if err != nil {
		return "", s.fail(token, err)
	}
	s.setCurrent(token)
	s.publish(events.KindSave, token, saved, false)
	return saved, nil
}

// Add stores the camera's current position as a new preset. An empty name
// lets the camera choose one.
func (s *Session) Add(ctx context.Context, name string) (preset.Entry, error) {
	s.op.Lock()
	defer s.op.Unlock()

	token, got, err := s.store.Add(ctx, name)
	if err != nil {
		return preset.Entry{}, s.fail("", err)
	}
	s.setCurrent(token)
	s.publish(events.KindNew, token, got, false)
	return preset.Entry{Token: token, Name: got}, nil
}

// Rename gives token a new name. When the camera stands at the preset the
// name is written at once; otherwise it waits until the camera next visits
// the preset or a forced commit. It reports whether the rename is still
// pending.
func (s *Session) Rename(ctx context.Context, token, name string) (bool, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if err := s.store.RequestRename(token, name); err != nil {
		return false, s.fail(token, err)
	}
	if s.Current() != token || !s.store.IsPending(token) {
		pending := s.store.IsPending(token)
		s.publish(events.KindRename, token, name, pending)
		return pending, nil
	}
	if err := s.commit(ctx, token, true); err != nil {
		return true, err
	}
	s.publish(events.KindRename, token, name, false)
	return false, nil
}

// Delete removes token from the camera.
func (s *Session) Delete(ctx context.Context, token string) error {
	s.op.Lock()
	defer s.op.Unlock()

	name, _ := s.store.Name(token)
	if err := s.store.Delete(ctx, token); err != nil {
		return s.fail(token, err)
	}
	s.mu.Lock()
	if s.current == token {
		s.current = ""
	}
	s.mu.Unlock()
	s.publish(events.KindDelete, token, name, false)
	return nil
}

// Refresh reloads the presets from the camera. Pending renames are kept.
func (s *Session) Refresh(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if err := s.store.Refresh(ctx); err != nil {
		return s.fail("", err)
	}
	s.mu.Lock()
	if s.current != "" && !s.store.Has(s.current) {
		s.current = ""
	}
	s.mu.Unlock()
	s.publish(events.KindRefresh, "", "", false)
	return nil
}

// Commit writes the pending rename of token. With CommitAtPreset the camera
// must be at token already; CommitForce moves it there. It reports false
// when nothing was pending.
func (s *Session) Commit(ctx context.Context, token string, mode CommitMode) (bool, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.store.Has(token) {
		return false, s.fail(token, fmt.Errorf("%w: %s", preset.ErrUnknownToken, token))
	}
	if !s.store.IsPending(token) {
		return false, nil
	}
	if mode == CommitAtPreset && s.Current() != token {
		return false, s.fail(token, fmt.Errorf("%w: %s at %q", ErrNotAtPreset, token, s.Current()))
	}
	if err := s.commit(ctx, token, true); err != nil {
		return false, err
	}
	return true, nil
}

// CommitAll writes pending renames. With CommitAtPreset only the preset the
// camera is at is written and the others stay pending. With CommitForce
// every pending rename is written, leaving the camera at the last preset
// committed. The committed tokens are returned; failed ones stay pending.
func (s *Session) CommitAll(ctx context.Context, mode CommitMode) ([]string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if mode == CommitAtPreset {
		current := s.Current()
		if current == "" || !s.store.IsPending(current) {
			return nil, nil
		}
		if err := s.commit(ctx, current, true); err != nil {
			return nil, &preset.CommitError{Token: current, Err: err}
		}
		return []string{current}, nil
	}

	pending := s.store.Pending()
	last := ""
	for token := range pending {
		if token > last {
			last = token
		}
	}
	done, err := s.store.CommitAll(ctx)
	for _, token := range done {
		name, _ := s.store.Name(token)
		s.publish(events.KindCommitRenames, token, name, false)
	}
	var lastErr error
	if err != nil {
		for _, e := range unjoin(err) {
			token := ""
			var ce *preset.CommitError
			if errors.As(e, &ce) {
				token = ce.Token
				if token == last {
					lastErr = ce.Err
				}
			}
			s.fail(token, e)
		}
	}
	if last != "" {
		s.settle(last, lastErr)
	}
	return done, err
}

// commit writes one pending rename, sending the camera to token first
// unless move is false. Caller must hold s.op.
func (s *Session) commit(ctx context.Context, token string, move bool) error {
	commit := s.store.Commit
	if !move {
		commit = s.store.CommitHere
	}
	ok, err := commit(ctx, token)
	if ok || err != nil {
		s.settle(token, err)
	}
	if err != nil {
		return s.fail(token, err)
	}
	if ok {
		name, _ := s.store.Name(token)
		s.publish(events.KindCommitRenames, token, name, false)
	}
	return nil
}

// settle records where the camera is after a commit of token ended with
// err. The commit moves the camera first, so only a failed save leaves it
// known to be at token.
func (s *Session) settle(token string, err error) {
	var ce *device.CallError
	if err == nil || (errors.As(err, &ce) && ce.Op == device.OpSetPreset) {
		s.setCurrent(token)
		return
	}
	s.setCurrent("")
}

func (s *Session) publish(kind, token, name string, pending bool) {
	s.bus.Publish(events.Event{Kind: kind, Camera: s.name, Token: token, Name: name, Pending: pending})
}

// fail reports err on the status channel and returns it.
func (s *Session) fail(token string, err error) error {
	logging.Error(fmt.Errorf("camera %s: %w", s.name, err))
	s.bus.Publish(events.Event{Kind: events.KindError, Camera: s.name, Token: token, Error: err.Error()})
	return err
}

func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
