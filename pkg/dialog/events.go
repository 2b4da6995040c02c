package dialog

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
)

// wireEvent covers the union of fields used by every inbound event type
// this client understands; unused fields are simply left zero for a given
// event. The realtime protocol is otherwise a much larger surface — the
// bridge only decodes what drives the turn-taking state machine and the
// transcript log.
type wireEvent struct {
	Type string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Response *struct {
		ID string `json:"id"`
	} `json:"response,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const eventUserTranscriptDone = "conversation.item.input_audio_transcription.completed"

// buildFSM wires the four dialog states to the realtime event names that
// drive transitions between them. Server VAD owns the
// speech_started/speech_stopped boundary; the bridge only reacts.
func buildFSM(c *Client) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSpeechStarted, Src: []string{StateIdle, StateAwaitingResponse, StateModelSpeaking}, Dst: StateUserSpeaking},
			{Name: eventSpeechStopped, Src: []string{StateUserSpeaking}, Dst: StateAwaitingResponse},
			{Name: eventResponseCreated, Src: []string{StateAwaitingResponse}, Dst: StateAwaitingResponse},
			{Name: eventResponseAudioDelta, Src: []string{StateAwaitingResponse, StateModelSpeaking}, Dst: StateModelSpeaking},
			{Name: eventResponseCompleted, Src: []string{StateModelSpeaking, StateAwaitingResponse}, Dst: StateIdle},
			{Name: eventResponseCanceled, Src: []string{StateModelSpeaking, StateAwaitingResponse, StateUserSpeaking}, Dst: StateIdle},
			{Name: eventResponseError, Src: []string{StateIdle, StateUserSpeaking, StateAwaitingResponse, StateModelSpeaking}, Dst: StateIdle},
			{Name: eventLocalBargeIn, Src: []string{StateModelSpeaking, StateAwaitingResponse}, Dst: StateUserSpeaking},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) { c.onEnterState(e) },
		},
	)
}

func (c *Client) onEnterState(e *fsm.Event) {
	c.session.SetDialogState(e.Dst)
	if c.metrics != nil {
		c.metrics.DialogStateTransitions.WithLabelValues(e.Src, e.Dst).Inc()
	}

	if e.Dst == StateUserSpeaking && (e.Src == StateModelSpeaking || e.Src == StateAwaitingResponse) {
		c.cancelActiveResponse()
		discarded := c.session.Output.Flush()
		c.log.Info("barge-in interrupted model speech", "discarded_frames", discarded, "trigger", e.Event)
	}
}

// fire drives the FSM and swallows the "no such transition" class of
// error — an out-of-order or duplicate server event is not fatal to the
// call, just a no-op for the state machine.
func (c *Client) fire(event string) {
	if err := c.fsm.Event(context.Background(), event); err != nil {
		c.log.Debug("dialog event ignored", "event", event, "state", c.fsm.Current(), "reason", err)
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("realtime websocket closed")
			} else {
				select {
				case <-c.stopCh:
				default:
					c.log.Error("realtime websocket read failed", "error", err)
				}
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("dropping unparseable realtime event", "error", err)
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev wireEvent) {
	switch ev.Type {
	case eventSessionCreated:
		c.sendSessionUpdate()
		c.sendGreeting()

	case eventSpeechStarted:
		c.fire(eventSpeechStarted)

	case eventSpeechStopped:
		c.fire(eventSpeechStopped)

	case eventResponseCreated:
		if ev.Response != nil {
			c.session.SetActiveResponseID(ev.Response.ID)
		}
		c.fire(eventResponseCreated)

	case eventResponseAudioDelta:
		pcm, err := decodeBase64(ev.Delta)
		if err != nil {
			c.log.Warn("dropping malformed audio delta", "error", err)
			return
		}
		c.fire(eventResponseAudioDelta)
		select {
		case c.AudioOut <- pcm:
		default:
			c.log.Warn("audio-out queue full, dropping model audio burst")
		}

	case eventTranscriptDelta:
		if c.sink != nil && ev.Delta != "" {
			c.sink.LogBot(ev.Delta)
		}

	case eventTranscriptDone:
		// Transcript already streamed via deltas; nothing further to log.

	case eventUserTranscriptDone:
		if c.sink != nil && ev.Transcript != "" {
			c.sink.LogUser(ev.Transcript)
		}

	case eventResponseCompleted:
		c.session.SetActiveResponseID("")
		c.fire(eventResponseCompleted)

	case eventResponseCanceled:
		c.session.SetActiveResponseID("")
		c.fire(eventResponseCanceled)

	case eventResponseError:
		msg := "unknown error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		c.log.Error("realtime model reported an error", "message", msg)
		c.fire(eventResponseError)

	default:
		c.log.Debug("unhandled realtime event", "type", ev.Type)
	}
}

func encodeBase64(pcm []byte) string { return base64.StdEncoding.EncodeToString(pcm) }

func decodeBase64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
