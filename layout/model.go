package layout

// Store is the full persistent state: the panel order of every camera.
type Store struct {
	Cameras map[string][]string `json:"cameras"` // camera name → preset tokens
}
