// Package dialog drives one call's conversation with the realtime speech
// model: a websocket connection carrying the model's event protocol, and
// a state machine tracking whose turn it is to speak. Only the
// server-VAD path is implemented — the model decides when the caller has
// stopped talking and when to start its own response; the bridge never
// issues a manual commit or response.create itself, except for the
// opening greeting.
package dialog

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/pkg/media"
)

// Dialog states.
const (
	StateIdle = "Idle"
	StateUserSpeaking = "UserSpeaking"
	StateAwaitingResponse = "AwaitingResponse"
	StateModelSpeaking = "ModelSpeaking"
)

// Realtime event type names, exactly as they appear on the wire.
const (
	eventSessionCreated = "session.created"
	eventSpeechStarted = "input_audio_buffer.speech_started"
	eventSpeechStopped = "input_audio_buffer.speech_stopped"
	eventResponseCreated = "response.created"
	eventResponseAudioDelta = "response.audio.delta"
	eventTranscriptDelta = "response.audio_transcript.delta"
	eventTranscriptDone = "response.audio_transcript.done"
	eventResponseCompleted = "response.completed"
	eventResponseCanceled = "response.canceled"
	eventResponseError = "response.error"
	eventLocalBargeIn = "local.barge_in"
	eventInputAudioBufferAppend = "input_audio_buffer.append"
	eventResponseCreate = "response.create"
	eventResponseCancel = "response.cancel"
	eventSessionUpdate = "session.update"
)

// Server-VAD turn-detection timings sent in session.update: a 500ms
// pre-roll so the model hears the start of an utterance the local energy
// detector is still ramping up on, and 800ms of trailing silence before
// the model treats a turn as finished.
const (
	turnDetectionPrefixPaddingMS = 500
	turnDetectionSilenceDurationMS = 800
)

// PCM16 is the wire encoding both legs of the realtime session use for
// audio frames once resampled; the model leg runs it at ModelSampleRateHz.
const audioFormatPCM16 = "pcm16"

// MinInputChunkBytes is the minimum PCM16 chunk size the model accepts per
// input_audio_buffer.append call at 24 kHz mono — 30ms of audio. The
// client accumulates resampled caller audio until it has at least this
// much before flushing a frame upstream, instead of sending every 20ms
// RTP frame as its own tiny websocket message.
const MinInputChunkBytes = 1440

// Config carries the realtime model connection parameters, sourced from
// environment configuration.
type Config struct {
	Endpoint string
	APIKey string
	Model string
	Voice string
	Instructions string
}

// TranscriptSink receives the caller's and the model's transcribed speech
// as it streams in, for the conversation log.
type TranscriptSink interface {
	LogUser(text string)
	LogBot(text string)
}

// Client owns one call's realtime model connection and its turn-taking
// state machine. Exactly one goroutine reads the websocket (readLoop);
// SendAudio and the FSM's Event calls may be invoked from other
// goroutines and are serialized internally.
type Client struct {
	cfg Config
	session *media.Session
	sink TranscriptSink
	log *slog.Logger
	metrics *metrics.Collector

	conn *websocket.Conn
	sendMu sync.Mutex

	fsm *fsm.FSM

	mu sync.Mutex
	inputPending []byte

	AudioOut chan []byte // PCM16 @ 24kHz bursts from response.audio.delta

	stopCh chan struct{}
	wg sync.WaitGroup
}

// NewClient builds a dialog client bound to one media session. Connect
// must be called before it does anything useful. m may be nil.
func NewClient(cfg Config, session *media.Session, sink TranscriptSink, m *metrics.Collector, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg: cfg,
		session: session,
		sink: sink,
		log: log.With("session_id", session.ID),
		metrics: m,
		AudioOut: make(chan []byte, 64),
		stopCh: make(chan struct{}),
	}
	c.fsm = buildFSM(c)
	session.SetDialogState(c.fsm.Current())
	return c
}

// Connect dials the realtime model's websocket endpoint and starts the
// read loop.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		return &ProtocolError{Op: "connect", Message: "dial websocket", Wrapped: err}
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Close tears down the websocket connection and stops the read loop.
func (c *Client) Close() error {
	close(c.stopCh)
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.wg.Wait()
	close(c.AudioOut)
	return err
}

// State reports the current dialog state.
func (c *Client) State() string {
	return c.fsm.Current()
}

// SendAudio accepts one 24 kHz PCM16 chunk resampled from the caller's RTP
// audio and batches it until MinInputChunkBytes is available, at which
// point it is flushed as an input_audio_buffer.append event. Server VAD
// on the model side decides on its own when enough audio has accumulated
// to treat as a turn — the bridge never calls commit itself.
func (c *Client) SendAudio(pcm24k []byte) error {
	c.mu.Lock()
	c.inputPending = append(c.inputPending, pcm24k...)
	var flush []byte
	if len(c.inputPending) >= MinInputChunkBytes {
		flush = c.inputPending
		c.inputPending = nil
	}
	c.mu.Unlock()

	if flush == nil {
		return nil
	}
	return c.sendEvent(map[string]any{
		"type": eventInputAudioBufferAppend,
		"audio": encodeBase64(flush),
	})
}

// BargeIn is called by the orchestrator when the local VAD detects
// the caller talking over the model. It fires the FSM's barge-in
// transition, which cancels any in-flight response and flushes the
// session's output buffer.
func (c *Client) BargeIn(ctx context.Context) error {
	return c.fsm.Event(ctx, eventLocalBargeIn)
}

// sendSessionUpdate configures the realtime session before anything else
// is sent: audio format and sample rate for both directions, the
// instructions/voice/modalities the greeting will also use, and
// server-VAD turn detection. Without this the model falls back to
// whatever its own defaults are, which is not the server-VAD contract
// the dialog FSM assumes.
func (c *Client) sendSessionUpdate() {
	err := c.sendEvent(map[string]any{
		"type": eventSessionUpdate,
		"session": map[string]any{
			"modalities": []string{"audio", "text"},
			"instructions": c.cfg.Instructions,
			"voice": c.cfg.Voice,
			"input_audio_format": audioFormatPCM16,
			"output_audio_format": audioFormatPCM16,
			"input_audio_sample_rate_hz": media.ModelSampleRateHz,
			"output_audio_sample_rate_hz": media.ModelSampleRateHz,
			"turn_detection": map[string]any{
				"type": "server_vad",
				"prefix_padding_ms": turnDetectionPrefixPaddingMS,
				"silence_duration_ms": turnDetectionSilenceDurationMS,
			},
		},
	})
	if err != nil {
		c.log.Error("failed to send session.update", "error", err)
	}
}

// sendGreeting asks the model to speak first, once the session is ready.
// This is the one place the client issues a manual response.create — the
// deprecated client-VAD pattern of committing and requesting a response
// after every caller turn is intentionally not implemented.
func (c *Client) sendGreeting() {
	err := c.sendEvent(map[string]any{
		"type": eventResponseCreate,
		"response": map[string]any{
			"modalities": []string{"audio", "text"},
			"instructions": c.cfg.Instructions,
			"voice": c.cfg.Voice,
		},
	})
	if err != nil {
		c.log.Error("failed to request greeting response", "error", err)
	}
}

func (c *Client) cancelActiveResponse() {
	id := c.session.ActiveResponseID()
	if id == "" {
		return
	}
	err := c.sendEvent(map[string]any{
		"type": eventResponseCancel,
		"response_id": id,
	})
	if err != nil {
		c.log.Error("failed to cancel response", "response_id", id, "error", err)
	}
}

func (c *Client) sendEvent(v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.conn == nil {
		return &ProtocolError{Op: "send", Message: "not connected"}
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return &ProtocolError{Op: "send", Message: "write websocket frame", Wrapped: err}
	}
	return nil
}
