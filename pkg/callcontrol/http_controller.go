package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// HTTPController is a minimal REST-style Controller for PBX control
// surfaces that expose create/answer/bridge/hangup as plain JSON POST
// endpoints (the common shape of an ARI-style control API). It is
// deliberately small: the bridge's only calling-control need is standing
// up one external-media leg per call, not a general PBX client.
type HTTPController struct {
	baseURL string
	client *http.Client
	events chan Event
	log *slog.Logger
}

// NewHTTPController builds a controller against baseURL. The returned
// Controller's Events channel stays empty until something feeds it via
// PushEvent — wiring a webhook receiver to PushEvent is the caller's job.
func NewHTTPController(baseURL string, client *http.Client, log *slog.Logger) *HTTPController {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPController{
		baseURL: baseURL,
		client: client,
		events: make(chan Event, 32),
		log: log,
	}
}

// PushEvent delivers a PBX-side notification (typically received over a
// webhook or a separate event websocket) to the orchestrator.
func (c *HTTPController) PushEvent(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("call-control event queue full, dropping event", "kind", e.Kind)
	}
}

func (c *HTTPController) Events() <-chan Event { return c.events }

func (c *HTTPController) Close() error {
	close(c.events)
	return nil
}

func (c *HTTPController) CreateBridge(ctx context.Context) (Bridge, error) {
	var out Bridge
	err := c.post(ctx, "/bridges", map[string]any{"type": "mixing"}, &out)
	return out, err
}

func (c *HTTPController) CreateExternalMediaChannel(ctx context.Context, sessionID, mediaHost string, mediaPort int) (Channel, error) {
	var out Channel
	err := c.post(ctx, "/channels/externalMedia", map[string]any{
		"session_id": sessionID,
		"external_host": fmt.Sprintf("%s:%d", mediaHost, mediaPort),
		"format": "alaw",
	}, &out)
	out.SessionID = sessionID
	return out, err
}

func (c *HTTPController) AnswerChannel(ctx context.Context, channel Channel) error {
	return c.post(ctx, "/channels/"+channel.ID+"/answer", nil, nil)
}

func (c *HTTPController) AddChannelToBridge(ctx context.Context, bridge Bridge, channel Channel) error {
	return c.post(ctx, "/bridges/"+bridge.ID+"/addChannel", map[string]any{"channel": channel.ID}, nil)
}

func (c *HTTPController) HangupChannel(ctx context.Context, channel Channel) error {
	return c.post(ctx, "/channels/"+channel.ID+"/hangup", nil, nil)
}

func (c *HTTPController) DeleteBridge(ctx context.Context, bridge Bridge) error {
	return c.post(ctx, "/bridges/"+bridge.ID+"/delete", nil, nil)
}

func (c *HTTPController) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("callcontrol: marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("callcontrol: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callcontrol: request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callcontrol: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("callcontrol: decode response from %s: %w", path, err)
	}
	return nil
}
