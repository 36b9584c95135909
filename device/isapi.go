package device

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
)

// DefaultMaxPresets is the number of preset slots Hikvision PTZ cameras
// expose per channel.
const DefaultMaxPresets = 256

// ErrPresetsFull is returned when no free preset slot is left.
var ErrPresetsFull = errors.New("no free preset slot")

// ISAPIOptions configures an ISAPI client.
type ISAPIOptions struct {
	// BaseURL is the camera's scheme and authority, e.g. http://10.0.0.5:80.
	BaseURL    string
	User       string
	Password   string
	Timeout    time.Duration
	MaxPresets int
}

// ISAPI talks to Hikvision PTZ cameras over the ISAPI HTTP interface. PTZ
// channels play the role of profiles; preset ids are the tokens.
type ISAPI struct {
	base       string
	maxPresets int
	client     *http.Client
}

// NewISAPI returns a client answering the camera's digest challenges. It
// does not contact the camera.
func NewISAPI(opts ISAPIOptions) *ISAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	max := opts.MaxPresets
	if max <= 0 {
		max = DefaultMaxPresets
	}
	return &ISAPI{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		maxPresets: max,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &digest.Transport{Username: opts.User, Password: opts.Password},
		},
	}
}

type ptzChannelList struct {
	XMLName  xml.Name `xml:"PTZChannelList"`
	Channels []struct {
		ID      string `xml:"id"`
		Enabled *bool  `xml:"enabled"`
	} `xml:"PTZChannel"`
}

type ptzPresetList struct {
	XMLName xml.Name    `xml:"PTZPresetList"`
	Presets []ptzPreset `xml:"PTZPreset"`
}

type ptzPreset struct {
	XMLName      xml.Name  `xml:"PTZPreset"`
	ID           string    `xml:"id"`
	PresetName   string    `xml:"presetName"`
	Enabled      *bool     `xml:"enabled,omitempty"`
	AbsoluteHigh *Position `xml:"AbsoluteHigh,omitempty"`
}

type ptzStatus struct {
	XMLName      xml.Name `xml:"PTZStatus"`
	AbsoluteHigh Position `xml:"AbsoluteHigh"`
}

type responseStatus struct {
	XMLName       xml.Name `xml:"ResponseStatus"`
	StatusCode    int      `xml:"statusCode"`
	StatusString  string   `xml:"statusString"`
	SubStatusCode string   `xml:"subStatusCode"`
}

func (c *ISAPI) ListProfiles(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/ISAPI/PTZCtrl/channels", nil)
	if err != nil {
		return nil, callError(OpListProfiles, "", err)
	}
	var list ptzChannelList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, callError(OpListProfiles, "", fmt.Errorf("failed to decode channels: %w", err))
	}
	var ids []string
	for _, ch := range list.Channels {
		if ch.Enabled != nil && !*ch.Enabled {
			continue
		}
		ids = append(ids, ch.ID)
	}
	if len(ids) == 0 {
		return nil, callError(OpListProfiles, "", ErrNoProfile)
	}
	return ids, nil
}

func (c *ISAPI) ListPresets(ctx context.Context, profile string) ([]Preset, error) {
	presets, err := c.listPresets(ctx, profile)
	if err != nil {
		return nil, callError(OpListPresets, "", err)
	}
	return presets, nil
}

func (c *ISAPI) listPresets(ctx context.Context, profile string) ([]Preset, error) {
	body, err := c.do(ctx, http.MethodGet, presetsPath(profile), nil)
	if err != nil {
		return nil, err
	}
	var list ptzPresetList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode presets: %w", err)
	}
	presets := make([]Preset, 0, len(list.Presets))
	for _, p := range list.Presets {
		// Cameras list every slot; unused ones are disabled.
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		presets = append(presets, Preset{Token: p.ID, Name: p.PresetName, Position: p.AbsoluteHigh})
	}
	return presets, nil
}

func (c *ISAPI) SetPreset(ctx context.Context, profile string, req SetRequest) (string, error) {
	token, name := req.Token, req.Name
	if token == "" || name == "" {
		existing, err := c.listPresets(ctx, profile)
		if err != nil {
			return "", callError(OpSetPreset, req.Token, err)
		}
		if token == "" {
			token, err = c.freeSlot(existing)
			if err != nil {
				return "", callError(OpSetPreset, "", err)
			}
		}
		if name == "" {
			name = "Preset " + token
			for _, p := range existing {
				if p.Token == token {
					name = p.Name
				}
			}
		}
	}
	enabled := true
	payload, err := xml.Marshal(ptzPreset{ID: token, PresetName: name, Enabled: &enabled})
	if err != nil {
		return "", callError(OpSetPreset, token, err)
	}
	if _, err := c.do(ctx, http.MethodPut, presetsPath(profile)+"/"+token, payload); err != nil {
		return "", callError(OpSetPreset, token, err)
	}
	return token, nil
}

func (c *ISAPI) GotoPreset(ctx context.Context, profile, token string) error {
	if _, err := c.do(ctx, http.MethodPut, presetsPath(profile)+"/"+token+"/goto", nil); err != nil {
		return callError(OpGotoPreset, token, err)
	}
	return nil
}

func (c *ISAPI) RemovePreset(ctx context.Context, profile, token string) error {
	if _, err := c.do(ctx, http.MethodDelete, presetsPath(profile)+"/"+token, nil); err != nil {
		return callError(OpRemovePreset, token, err)
	}
	return nil
}

func (c *ISAPI) GetStatus(ctx context.Context, profile string) (Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/ISAPI/PTZCtrl/channels/"+profile+"/status", nil)
	if err != nil {
		return Status{}, callError(OpGetStatus, "", err)
	}
	var status ptzStatus
	if err := xml.Unmarshal(body, &status); err != nil {
		return Status{}, callError(OpGetStatus, "", fmt.Errorf("failed to decode status: %w", err))
	}
	return Status{Position: status.AbsoluteHigh}, nil
}

func (c *ISAPI) freeSlot(existing []Preset) (string, error) {
	used := make(map[int]bool, len(existing))
	for _, p := range existing {
		if n, err := strconv.Atoi(p.Token); err == nil {
			used[n] = true
		}
	}
	for id := 1; id <= c.maxPresets; id++ {
		if !used[id] {
			return strconv.Itoa(id), nil
		}
	}
	return "", ErrPresetsFull
}

func presetsPath(profile string) string {
	return "/ISAPI/PTZCtrl/channels/" + profile + "/presets"
}

// do sends one request and returns the body of a 2xx response.
func (c *ISAPI) do(ctx context.Context, method, uri string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+uri, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var rs responseStatus
		if xml.Unmarshal(body, &rs) == nil && rs.StatusString != "" {
			return nil, fmt.Errorf("unexpected status code: %d (%s, %s)", resp.StatusCode, rs.StatusString, rs.SubStatusCode)
		}
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
