package device

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrUnknownPreset is returned by Memory for tokens it does not hold.
var ErrUnknownPreset = errors.New("no such preset")

// Call records one gateway call received by Memory.
type Call struct {
	Op      string
	Profile string
	Token   string
	Name    string
}

// Memory is an in-process camera. It keeps a physical position, moves to
// presets on goto and stores the current position on set. Tests inject
// failures per operation (and optionally per token) with Fail.
type Memory struct {
	mu       sync.Mutex
	profile  string
	presets  []Preset
	position Position
	nextID   int
	calls    []Call
	failures map[string]error
}

// NewMemory returns a camera holding presets in the given order. Presets
// without a position get a distinct one so that goto visibly moves the
// camera.
func NewMemory(presets ...Preset) *Memory {
	m := &Memory{profile: "profile_1", failures: make(map[string]error)}
	for i, p := range presets {
		if p.Position == nil {
			p.Position = &Position{Pan: float64(10 * (i + 1)), Tilt: float64(i), Zoom: 10}
		} else {
			pos := *p.Position
			p.Position = &pos
		}
		m.presets = append(m.presets, p)
		if n, err := strconv.Atoi(p.Token); err == nil && n > m.nextID {
			m.nextID = n
		}
	}
	if m.nextID < len(presets) {
		m.nextID = len(presets)
	}
	return m
}

// Profile returns the single profile token this camera exposes.
func (m *Memory) Profile() string {
	return m.profile
}

// Fail makes op fail with err. A non-empty token restricts the failure to
// calls for that token. A nil err clears the failure.
func (m *Memory) Fail(op, token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op
	if token != "" {
		key = op + ":" + token
	}
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// Calls returns every call received so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the calls received for op.
func (m *Memory) CallsFor(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Position returns the current physical position.
func (m *Memory) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// MoveTo moves the camera without going through a preset, like an operator
// with a joystick would.
func (m *Memory) MoveTo(pos Position) {
	m.mu.Lock()
	m.position = pos
	m.mu.Unlock()
}

// Presets returns the presets as the camera stores them.
func (m *Memory) Presets() []Preset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePresets(m.presets)
}

// Rename changes a name behind the coordinator's back, as another client
// would.
func (m *Memory) Rename(token, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(token); i >= 0 {
		m.presets[i].Name = name
	}
}

func (m *Memory) ListProfiles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpListProfiles}); err != nil {
		return nil, callError(OpListProfiles, "", err)
	}
	return []string{m.profile}, nil
}

func (m *Memory) ListPresets(ctx context.Context, profile string) ([]Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpListPresets, Profile: profile}); err != nil {
		return nil, callError(OpListPresets, "", err)
	}
	return clonePresets(m.presets), nil
}

func (m *Memory) SetPreset(ctx context.Context, profile string, req SetRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpSetPreset, Profile: profile, Token: req.Token, Name: req.Name}); err != nil {
		return "", callError(OpSetPreset, req.Token, err)
	}
	pos := m.position
	if req.Token == "" {
		m.nextID++
		token := strconv.Itoa(m.nextID)
		name := req.Name
		if name == "" {
			name = "Preset " + token
		}
		m.presets = append(m.presets, Preset{Token: token, Name: name, Position: &pos})
		return token, nil
	}
	i := m.index(req.Token)
	if i < 0 {
		return "", callError(OpSetPreset, req.Token, ErrUnknownPreset)
	}
	if req.Name != "" {
		m.presets[i].Name = req.Name
	}
	m.presets[i].Position = &pos
	return req.Token, nil
}

func (m *Memory) GotoPreset(ctx context.Context, profile, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpGotoPreset, Profile: profile, Token: token}); err != nil {
		return callError(OpGotoPreset, token, err)
	}
	i := m.index(token)
	if i < 0 {
		return callError(OpGotoPreset, token, ErrUnknownPreset)
	}
	m.position = *m.presets[i].Position
	return nil
}

func (m *Memory) RemovePreset(ctx context.Context, profile, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpRemovePreset, Profile: profile, Token: token}); err != nil {
		return callError(OpRemovePreset, token, err)
	}
	i := m.index(token)
	if i < 0 {
		return callError(OpRemovePreset, token, ErrUnknownPreset)
	}
	m.presets = append(m.presets[:i], m.presets[i+1:]...)
	return nil
}

func (m *Memory) GetStatus(ctx context.Context, profile string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpGetStatus, Profile: profile}); err != nil {
		return Status{}, callError(OpGetStatus, "", err)
	}
	return Status{Position: m.position}, nil
}

// record logs c and returns the injected failure for it, if any.
// Caller must hold m.mu.
func (m *Memory) record(c Call) error {
	m.calls = append(m.calls, c)
	if c.Token != "" {
		if err, ok := m.failures[c.Op+":"+c.Token]; ok {
			return err
		}
	}
	return m.failures[c.Op]
}

func (m *Memory) index(token string) int {
	for i, p := range m.presets {
		if p.Token == token {
			return i
		}
	}
	return -1
}

func clonePresets(in []Preset) []Preset {
	out := make([]Preset, len(in))
	for i, p := range in {
		out[i] = p
		if p.Position != nil {
			pos := *p.Position
			out[i].Position = &pos
		}
	}
	return out
}
