package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ptz-presets/device"
	"ptz-presets/events"
)

// Config describes one camera of the site.
type Config struct {
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	// Channel selects the PTZ channel; zero means the first one.
	Channel int `yaml:"channel" json:"channel,omitempty"`
}

// Dialer returns a gateway for a configured camera.
type Dialer func(ctx context.Context, cfg Config) (device.Gateway, error)

// ISAPIDialer returns a Dialer for Hikvision cameras.
func ISAPIDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, cfg Config) (device.Gateway, error) {
		port := cfg.Port
		if port == 0 {
			port = 80
		}
		return device.NewISAPI(device.ISAPIOptions{
			BaseURL:  fmt.Sprintf("http://%s:%d", cfg.Host, port),
			User:     cfg.User,
			Password: cfg.Password,
			Timeout:  timeout,
		}), nil
	}
}

// Fleet holds the sessions of every camera that could be reached.
type Fleet struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	bus      events.Publisher
}

func NewFleet(bus events.Publisher) *Fleet {
	if bus == nil {
		bus = events.Discard
	}
	return &Fleet{sessions: make(map[string]*Session), bus: bus}
}

// Connect opens every camera in parallel. A camera that fails is skipped
// with an error event and the others carry on. It returns the number of
// cameras now connected.
func (f *Fleet) Connect(ctx context.Context, configs []Config, dial Dialer) int {
	opened := make([]*Session, len(configs))
	var g errgroup.Group
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			s, err := f.open(ctx, cfg, dial)
			if err != nil {
				f.bus.Publish(events.Event{Kind: events.KindError, Camera: cfg.Name, Error: err.Error()})
				return nil
			}
			opened[i] = s
			return nil
		})
	}
	g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range opened {
		if s == nil {
			continue
		}
		if _, dup := f.sessions[s.Name()]; !dup {
			f.order = append(f.order, s.Name())
		}
		f.sessions[s.Name()] = s
	}
	return len(f.sessions)
}

func (f *Fleet) open(ctx context.Context, cfg Config, dial Dialer) (*Session, error) {
	gw, err := dial(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Camera: cfg.Name, Err: err}
	}
	profile := ""
	if cfg.Channel > 0 {
		profile = strconv.Itoa(cfg.Channel)
	}
	return OpenProfile(ctx, cfg.Name, profile, gw, f.bus)
}

// Get returns the session of the named camera.
func (f *Fleet) Get(name string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns the sessions in configuration order.
func (f *Fleet) List() []*Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]*Session, 0, len(f.order))
	for _, name := range f.order {
		list = append(list, f.sessions[name])
	}
	return list
}

// CommitAll commits pending renames on every camera in parallel. Cameras
// do not wait on each other. The result of each camera is keyed by its
// name; the errors of all of them are joined.
func (f *Fleet) CommitAll(ctx context.Context, mode CommitMode) (map[string]CommitResult, error) {
	var mu sync.Mutex
	results := make(map[string]CommitResult)
	err := f.each(func(s *Session) error {
		done, err := s.CommitAll(ctx, mode)
		mu.Lock()
		results[s.Name()] = NewCommitResult(done, err)
		mu.Unlock()
		return err
	})
	return results, err
}

// Refresh reloads the presets of every camera in parallel.
func (f *Fleet) Refresh(ctx context.Context) error {
	return f.each(func(s *Session) error {
		return s.Refresh(ctx)
	})
}

func (f *Fleet) each(fn func(s *Session) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range f.List() {
		s := s
		g.Go(func() error {
			if err := fn(s); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
