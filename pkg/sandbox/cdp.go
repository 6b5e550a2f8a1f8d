package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/testrig-ai/testrig/pkg/models"
)

// cdpConn is a minimal Chrome DevTools Protocol client over the browser's
// control websocket, sufficient for window placement.
type cdpConn struct {
	conn   *websocket.Conn
	nextID int
}

type cdpRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func dialCDP(ctx context.Context, wsEndpoint string) (*cdpConn, error) {
	conn, _, err := websocket.Dial(ctx, wsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial browser endpoint: %w", err)
	}
	conn.SetReadLimit(8 << 20)
	return &cdpConn{conn: conn}, nil
}

func (c *cdpConn) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// call sends one command and waits for its response, skipping interleaved
// protocol events.
func (c *cdpConn) call(ctx context.Context, method string, params any, result any) error {
	c.nextID++
	id := c.nextID
	payload, err := json.Marshal(cdpRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read %s response: %w", method, err)
		}
		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID != id {
			continue // event or unrelated message
		}
		if resp.Error != nil {
			return fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

// PositionWindow places the browser window on its tile over raw CDP. The
// two-step minimize→normal transition is deliberate: some window managers
// ignore a bounds change while the window is in its initial state.
// Best-effort by contract: callers log the returned error and continue.
func PositionWindow(ctx context.Context, wsEndpoint string, bounds models.WindowBounds) error {
	cdp, err := dialCDP(ctx, wsEndpoint)
	if err != nil {
		return err
	}
	defer cdp.close()

	var targets struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
		} `json:"targetInfos"`
	}
	if err := cdp.call(ctx, "Target.getTargets", nil, &targets); err != nil {
		return err
	}
	targetID := ""
	for _, t := range targets.TargetInfos {
		if t.Type == "page" {
			targetID = t.TargetID
			break
		}
	}
	if targetID == "" {
		return fmt.Errorf("no page target to position")
	}

	var window struct {
		WindowID int `json:"windowId"`
	}
	if err := cdp.call(ctx, "Browser.getWindowForTarget",
		map[string]any{"targetId": targetID}, &window); err != nil {
		return err
	}

	if err := cdp.call(ctx, "Browser.setWindowBounds", map[string]any{
		"windowId": window.WindowID,
		"bounds":   map[string]any{"windowState": "minimized"},
	}, nil); err != nil {
		return err
	}
	return cdp.call(ctx, "Browser.setWindowBounds", map[string]any{
		"windowId": window.WindowID,
		"bounds": map[string]any{
			"windowState": "normal",
			"left":        bounds.Left,
			"top":         bounds.Top,
			"width":       bounds.Width,
			"height":      bounds.Height,
		},
	}, nil)
}
