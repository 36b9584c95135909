package preset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ptz-presets/device"
	"ptz-presets/logging"
)

// ErrUnknownToken is returned for tokens the camera has not reported.
var ErrUnknownToken = errors.New("unknown preset token")

// Entry is one preset as the presentation layer sees it.
type Entry struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	// Pending is set while Name is a rename the camera has not stored yet;
	// Committed then holds the name the camera still reports.
	Pending   bool   `json:"pending"`
	Committed string `json:"committed,omitempty"`
}

// CommitError reports a pending rename that could not be applied.
type CommitError struct {
	Token string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Token, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Store keeps the preset names of one camera in two layers: committed
// names as last reported by the camera, and pending renames that have not
// been written yet. A pending name shadows the committed one for every
// read.
//
// The camera has no rename call. Writing a name means moving the camera to
// the preset and saving the current position under the new name, so
// renames wait in the pending layer until Commit.
type Store struct {
	// op serializes every operation that changes state or calls the camera.
	op sync.Mutex

	mu        sync.RWMutex
	gw        device.Gateway
	profile   string
	order     []string
	committed map[string]string
	pending   map[string]string
	positions map[string]device.Position
}

// NewStore returns an empty store for the given camera profile. Call
// Refresh to load the camera's presets.
func NewStore(gw device.Gateway, profile string) *Store {
	return &Store{
		gw:        gw,
		profile:   profile,
		committed: make(map[string]string),
		pending:   make(map[string]string),
		positions: make(map[string]device.Position),
	}
}

// Profile returns the camera profile the store operates on.
func (s *Store) Profile() string {
	return s.profile
}

// Refresh replaces the committed layer with what the camera reports.
// Pending renames survive unless their preset no longer exists. On error
// nothing changes.
func (s *Store) Refresh(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.reload(ctx)
}

func (s *Store) reload(ctx context.Context) error {
	presets, err := s.gw.ListPresets(ctx, s.profile)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.committed = make(map[string]string, len(presets))
	s.positions = make(map[string]device.Position, len(presets))
	for _, p := range presets {
		if _, dup := s.committed[p.Token]; dup {
			continue
		}
		s.order = append(s.order, p.Token)
		s.committed[p.Token] = p.Name
		if p.Position != nil {
			s.positions[p.Token] = *p.Position
		}
	}
	for token, name := range s.pending {
		committed, ok := s.committed[token]
		switch {
		case !ok:
			logging.Trace("preset.pending.drop", map[string]interface{}{"token": token, "name": name})
			delete(s.pending, token)
		case committed == name:
			delete(s.pending, token)
		}
	}
	return nil
}

// Names returns token → effective name: the pending name where one
// exists, the committed name otherwise.
func (s *Store) Names() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(s.committed))
	for token, name := range s.committed {
		names[token] = name
	}
	for token, name := range s.pending {
		names[token] = name
	}
	return names
}

// Name returns the effective name of token.
func (s *Store) Name(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nameLocked(token)
}

func (s *Store) nameLocked(token string) (string, bool) {
	if name, ok := s.pending[token]; ok {
		return name, true
	}
	name, ok := s.committed[token]
	return name, ok
}

// Tokens returns effective name → token. When two presets share a name,
// a preset with a pending rename wins over a committed-only one; otherwise
// the first in camera order wins. The losers are reported by Shadowed.
func (s *Store) Tokens() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens, _ := s.reverseLocked()
	return tokens
}

// Token looks up a preset by effective name.
func (s *Store) Token(name string) (string, bool) {
	token, ok := s.Tokens()[name]
	return token, ok
}

// Shadowed returns the tokens left out of Tokens because another preset
// resolves to the same name.
func (s *Store) Shadowed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, shadowed := s.reverseLocked()
	return shadowed
}

func (s *Store) reverseLocked() (map[string]string, []string) {
	tokens := make(map[string]string, len(s.order))
	var shadowed []string
	assign := func(token, name string) {
		if _, taken := tokens[name]; taken {
			shadowed = append(shadowed, token)
			return
		}
		tokens[name] = token
	}
	for _, token := range s.order {
		if name, ok := s.pending[token]; ok {
			assign(token, name)
		}
	}
	for _, token := range s.order {
		if _, ok := s.pending[token]; !ok {
			assign(token, s.committed[token])
		}
	}
	return tokens, shadowed
}

// Pending returns a copy of the pending renames.
func (s *Store) Pending() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make(map[string]string, len(s.pending))
	for token, name := range s.pending {
		pending[token] = name
	}
	return pending
}

// IsPending reports whether token has a rename waiting to be committed.
func (s *Store) IsPending(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[token]
	return ok
}

// Has reports whether the camera knows token.
func (s *Store) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.committed[token]
	return ok
}

// List returns the presets in camera order.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.order))
	for _, token := range s.order {
		e := Entry{Token: token, Name: s.committed[token]}
		if name, ok := s.pending[token]; ok {
			e.Pending = true
			e.Committed = e.Name
			e.Name = name
		}
		entries = append(entries, e)
	}
	return entries
}

// Order returns the tokens in camera order.
func (s *Store) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// RequestRename records name as the pending name of token. Renaming back
// to the committed name cancels the pending rename.
func (s *Store) RequestRename(token, name string) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	committed, ok := s.committed[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if name == committed {
		delete(s.pending, token)
		logging.Trace("preset.rename.cancel", map[string]interface{}{"token": token, "name": name})
		return nil
	}
	s.pending[token] = name
	logging.Trace("preset.rename.defer", map[string]interface{}{"token": token, "name": name})
	return nil
}

// Commit writes the pending name of token to the camera: goto the preset,
// then save the current position under the new name. Since the camera
// stands at the preset after the goto, the stored position is unchanged.
// It reports false without calling the camera when nothing is pending.
// On failure the rename stays pending.
func (s *Store) Commit(ctx context.Context, token string) (bool, error) {
	s.op.Lock()
	defer s.op.Unlock()

	return s.commitPending(ctx, token, true)
}

// CommitHere writes the pending name of token without moving the camera.
// The caller must have just confirmed that the camera stands at token.
func (s *Store) CommitHere(ctx context.Context, token string) (bool, error) {
	s.op.Lock()
	defer s.op.Unlock()
	return s.commitPending(ctx, token, false)
}

func (s *Store) commitPending(ctx context.Context, token string, move bool) (bool, error) {
	s.mu.RLock()
	name, ok := s.pending[token]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := s.commit(ctx, token, name, move); err != nil {
		return false, err
	}
	return true, nil
}

// CommitAll commits every pending rename in token order. It keeps going
// past failures; the returned error joins one CommitError per failed
// token, and those renames stay pending. The successfully committed tokens
// are returned in order.
func (s *Store) CommitAll(ctx context.Context) ([]string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	pending := s.Pending()
	tokens := make([]string, 0, len(pending))
	for token := range pending {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	var done []string
	var errs []error
	for _, token := range tokens {
		if err := s.commit(ctx, token, pending[token], true); err != nil {
			errs = append(errs, &CommitError{Token: token, Err: err})
			continue
		}
		done = append(done, token)
	}
	return done, errors.Join(errs...)
}

func (s *Store) commit(ctx context.Context, token, name string, move bool) error {
	if move {
		if err := s.gw.GotoPreset(ctx, s.profile, token); err != nil {
			return err
		}
	}
	if _, err := s.gw.SetPreset(ctx, s.profile, device.SetRequest{Token: token, Name: name}); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed[token] = name
	if s.pending[token] == name {
		delete(s.pending, token)
	}
	s.mu.Unlock()
	logging.Trace("preset.commit", map[string]interface{}{"token": token, "name": name})
	return nil
}

// Goto moves the camera to token.
func (s *Store) Goto(ctx context.Context, token string) error {
	s.op.Lock()
	defer s.op.Unlock()
	if !s.Has(token) {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return s.gw.GotoPreset(ctx, s.profile, token)
}

// Save overwrites token with the camera's current position under name, or
// under its effective name when name is empty. A pending rename is
// resolved by the same write.
func (s *Store) Save(ctx context.Context, token, name string) (string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	effective, ok := s.nameLocked(token)
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if name != "" {
		effective = name
	}
	if _, err := s.gw.SetPreset(ctx, s.profile, device.SetRequest{Token: token, Name: effective}); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.committed[token] = effective
	delete(s.pending, token)
	delete(s.positions, token)
	s.mu.Unlock()
	return effective, nil
}

// Add stores the camera's current position as a new preset and returns
// its token and the name the camera gave it. An empty name lets the camera
// choose.
func (s *Store) Add(ctx context.Context, name string) (string, string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	token, err := s.gw.SetPreset(ctx, s.profile, device.SetRequest{Name: name})
	if err != nil {
		return "", "", err
	}
	if err := s.reload(ctx); err != nil {
		// The preset exists; only its device-assigned name is unknown.
		logging.Error(fmt.Errorf("reload after add %s: %w", token, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.committed[token]; !ok {
		s.order = append(s.order, token)
		s.committed[token] = name
	}
	return token, s.committed[token], nil
}

// Delete removes token from the camera and from both layers. On error
// nothing changes locally.
func (s *Store) Delete(ctx context.Context, token string) error {
	s.op.Lock()
	defer s.op.Unlock()
	if !s.Has(token) {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if err := s.gw.RemovePreset(ctx, s.profile, token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.committed, token)
	delete(s.pending, token)
	delete(s.positions, token)
	for i, t := range s.order {
		if t == token {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Locate returns the preset whose stored position equals the camera's
// current position, if any.
func (s *Store) Locate(ctx context.Context) (string, bool, error) {
	s.op.Lock()
	defer s.op.Unlock()
	status, err := s.gw.GetStatus(ctx, s.profile)
	if err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.order {
		if pos, ok := s.positions[token]; ok && pos == status.Position {
			return token, true, nil
		}
	}
	return "", false, nil
}
