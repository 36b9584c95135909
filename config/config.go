package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ptz-presets/camera"
)

// Config captures runtime configuration for the server.
type Config struct {
	Addr         string
	CamerasFile  string
	LayoutFile   string
	SnapDistance float64
	Timeout      time.Duration
	Logging      Logging
	Cameras      []camera.Config
}

type Logging struct {
	FilePath string
	Trace    bool
}

const (
	envAddr         = "PTZ_PRESETS_ADDR"
	envCameras      = "PTZ_PRESETS_CAMERAS"
	envLayout       = "PTZ_PRESETS_LAYOUT"
	envLogFile      = "PTZ_PRESETS_LOG_FILE"
	envTrace        = "PTZ_PRESETS_TRACE"
	envSnapDistance = "PTZ_PRESETS_SNAP_DISTANCE"
	envTimeout      = "PTZ_PRESETS_TIMEOUT"
)

const (
	defaultAddr         = ":8080"
	defaultCameras      = "cameras.yaml"
	defaultLayout       = "/data/layout.json"
	defaultSnapDistance = 20
	defaultTimeout      = 5 * time.Second
)

// Load parses configuration from CLI arguments and environment variables.
func Load() (Config, error) {
	return LoadArgs(os.Args[1:], os.Environ())
}

// LoadArgs allows tests to supply specific args/environment. The camera
// file is read and parsed as part of loading.
func LoadArgs(args []string, environ []string) (Config, error) {
	env := parseEnv(environ)

	fs := flag.NewFlagSet("ptz-presets", flag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))

	addr := fs.String("addr", envOrDefault(env, envAddr, defaultAddr), "HTTP listen address")
	cameras := fs.String("cameras", envOrDefault(env, envCameras, defaultCameras), "path to the YAML camera file")
	layoutFile := fs.String("layout", envOrDefault(env, envLayout, defaultLayout), "path to the panel layout file")
	logFile := fs.String("log-file", envOrDefault(env, envLogFile, ""), "path to the log file (stderr when empty)")
	trace := fs.Bool("trace", envOrBool(env, envTrace, false), "enable verbose JSON trace logging")
	snapDistance := fs.Float64("snap-distance", envOrFloat(env, envSnapDistance, defaultSnapDistance), "drag snap distance in pixels")
	timeout := fs.Duration("timeout", envOrDuration(env, envTimeout, defaultTimeout), "timeout of a single camera request")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := Config{
		Addr:         *addr,
		CamerasFile:  *cameras,
		LayoutFile:   *layoutFile,
		SnapDistance: *snapDistance,
		Timeout:      *timeout,
		Logging: Logging{
			FilePath: *logFile,
			Trace:    *trace,
		},
	}

	list, err := LoadCameras(cfg.CamerasFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Cameras = list

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type cameraFile struct {
	Cameras []camera.Config `yaml:"cameras"`
}

// LoadCameras reads the camera list from a YAML file of the form
//
//	cameras:
//	  - name: front
//	    host: 10.0.0.5
//	    user: admin
//	    password: secret
func LoadCameras(path string) ([]camera.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camera file: %w", err)
	}
	var f cameraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse camera file %s: %w", path, err)
	}
	return f.Cameras, nil
}

// MustLoad returns configuration or exits.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// Validate ensures required minimum configuration is present.
func Validate(cfg Config) error {
	if cfg.SnapDistance <= 0 {
		return fmt.Errorf("snap-distance must be > 0 (got %v)", cfg.SnapDistance)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if len(cfg.Cameras) == 0 {
		return errors.New("no cameras configured")
	}
	seen := make(map[string]bool, len(cfg.Cameras))
	for i, c := range cfg.Cameras {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("camera %d has no name", i+1)
		}
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("camera %s has no host", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("camera name %s used twice", c.Name)
		}
		seen[c.Name] = true
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("camera %s: port %d out of range", c.Name, c.Port)
		}
	}
	return nil
}

func parseEnv(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[parts[0]] = parts[1]
	}
	return values
}

func envOrDefault(env map[string]string, key, fallback string) string {
	if v, ok := env[key]; ok {
		return v
	}
	return fallback
}

func envOrFloat(env map[string]string, key string, fallback float64) float64 {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(env map[string]string, key string, fallback time.Duration) time.Duration {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(env map[string]string, key string, fallback bool) bool {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
