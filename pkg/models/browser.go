package models

// WindowBounds places a browser window on the screen, in device-independent
// pixels.
type WindowBounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BrowserProfile is one fingerprint-isolated browser instance acquired for a
// single UI execution. Profiles are never shared: the acquiring execution
// owns the profile until teardown.
type BrowserProfile struct {
	ProfileID  string       `json:"profile_id"`
	GroupID    string       `json:"group_id,omitempty"`
	WSEndpoint string       `json:"ws_endpoint,omitempty"`
	TileIndex  int          `json:"tile_index"`
	Bounds     WindowBounds `json:"bounds"`
	Headless   bool         `json:"headless,omitempty"` // local fallback without a controller
}
