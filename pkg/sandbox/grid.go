// Package sandbox manages fingerprint-isolated browser instances for UI
// executions: a process-wide concurrency semaphore, a screen grid for window
// placement, an AdsPower-compatible controller client, and per-execution
// profile lifecycle with teardown on every exit path.
package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/testrig-ai/testrig/pkg/models"
)

// Default screen geometry when detection and configuration both fail.
const (
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080
)

// screenResRe matches "1920x1080" or "1920x1080@1.5".
var screenResRe = regexp.MustCompile(`^(\d+)x(\d+)(?:@([0-9.]+))?$`)

// ParseScreenRes parses a screen resolution override. Empty input returns
// the defaults with scale 1.
func ParseScreenRes(res string) (width, height int, scale float64, err error) {
	if res == "" {
		return defaultScreenWidth, defaultScreenHeight, 1.0, nil
	}
	m := screenResRe.FindStringSubmatch(res)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("invalid screen resolution %q (want WxH or WxH@scale)", res)
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	scale = 1.0
	if m[3] != "" {
		scale, err = strconv.ParseFloat(m[3], 64)
		if err != nil || scale <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid scale in %q", res)
		}
	}
	return width, height, scale, nil
}

// Grid partitions the primary display into cols x rows tiles and tracks
// which tiles are held. Every held browser slot owns a distinct tile, so
// concurrent windows never overlap.
type Grid struct {
	cols   int
	rows   int
	width  int
	height int
	scale  float64

	mu     sync.Mutex
	inUse  []bool
	pinned int // -1 unless every window is pinned to one tile
}

// NewGrid builds a grid. screenRes is the "WxH[@scale]" override, empty for
// defaults. pinned >= 0 forces every acquisition onto that tile.
func NewGrid(cols, rows int, screenRes string, pinned int) (*Grid, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d", cols, rows)
	}
	width, height, scale, err := ParseScreenRes(screenRes)
	if err != nil {
		return nil, err
	}
	if pinned >= cols*rows {
		return nil, fmt.Errorf("pinned tile %d outside %dx%d grid", pinned, cols, rows)
	}
	return &Grid{
		cols:   cols,
		rows:   rows,
		width:  width,
		height: height,
		scale:  scale,
		inUse:  make([]bool, cols*rows),
		pinned: pinned,
	}, nil
}

// Tiles returns the total tile count.
func (g *Grid) Tiles() int { return g.cols * g.rows }

// Acquire reserves a tile and returns its index and bounds. With a pinned
// tile every caller gets the same index (the pin overrides uniqueness by
// explicit operator choice). Without a pin the lowest free tile wins; when
// all tiles are taken the window goes unpositioned (index -1), which only
// happens when concurrency exceeds the tile count.
func (g *Grid) Acquire() (int, models.WindowBounds) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pinned >= 0 {
		return g.pinned, g.bounds(g.pinned)
	}
	for i := range g.inUse {
		if !g.inUse[i] {
			g.inUse[i] = true
			return i, g.bounds(i)
		}
	}
	return -1, models.WindowBounds{}
}

// Release frees a tile. Negative and pinned indexes are no-ops.
func (g *Grid) Release(index int) {
	if index < 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pinned >= 0 {
		return
	}
	if index < len(g.inUse) {
		g.inUse[index] = false
	}
}

// bounds computes a tile's window rectangle in device-independent pixels:
// screen pixels divided by the DPI scale.
func (g *Grid) bounds(index int) models.WindowBounds {
	col := index % g.cols
	row := index / g.cols
	tileW := g.width / g.cols
	tileH := g.height / g.rows
	return models.WindowBounds{
		Left:   int(float64(col*tileW) / g.scale),
		Top:    int(float64(row*tileH) / g.scale),
		Width:  int(float64(tileW) / g.scale),
		Height: int(float64(tileH) / g.scale),
	}
}
