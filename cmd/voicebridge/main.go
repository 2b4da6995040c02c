// Command voicebridge runs the real-time voice bridge: it answers a PBX's
// external-media RTP leg, carries audio to and from a cloud realtime
// speech-dialog model, and plays the model's responses back to the caller.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/voicebridge/internal/bridge"
	"github.com/arzzra/voicebridge/internal/config"
	"github.com/arzzra/voicebridge/internal/metrics"
	"github.com/arzzra/voicebridge/internal/transcript"
	"github.com/arzzra/voicebridge/pkg/callcontrol"
	"github.com/arzzra/voicebridge/pkg/demux"
	"github.com/arzzra/voicebridge/pkg/dialog"
	"github.com/arzzra/voicebridge/pkg/media"
	"github.com/arzzra/voicebridge/pkg/rtpio"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	app, err := newApp(cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Error("voicebridge exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.DevMode {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// app wires every component built for one running bridge process.
type app struct {
	cfg config.Config
	log *slog.Logger
	metrics *metrics.Collector

	registry *demux.Registry
	listener *demux.Listener

	registrarSrv *http.Server
	metricsSrv *http.Server

	controller callcontrol.Controller

	callsMu sync.Mutex
	calls map[string]*bridge.Call

	trackedMu sync.Mutex
	tracked map[string]trackedChannel // sessionID -> PBX channel/bridge, only when call control is enabled
}

type trackedChannel struct {
	bridge callcontrol.Bridge
	channel callcontrol.Channel
}

func newApp(cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg: cfg,
		log: log,
		calls: make(map[string]*bridge.Call),
		tracked: make(map[string]trackedChannel),
	}

	a.metrics = metrics.NewCollector("voicebridge", a.activeCallCount)

	sessionCfg := media.Config{
		JitterTargetMS: cfg.JitterTargetMS,
		JitterMaxFrames: cfg.JitterMaxFrames,
		OutputMaxFrames: cfg.OutputMaxFrames,
		VADThreshold: cfg.VADRMSThreshold,
		BargeInFrames: cfg.BargeInFrames,
	}
	a.registry = demux.NewRegistry(sessionCfg, a.onBargeIn, a.metrics, log)
	a.registry.OnSessionCreated(a.onSessionCreated)
	a.registry.OnSessionClosed(a.onSessionClosed)

	listener, err := demux.NewListener(
		fmt.Sprintf("%s:%d", cfg.RTPListenHost, cfg.RTPListenPort),
		a.registry,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("voicebridge: bind RTP listener: %w", err)
	}
	a.listener = listener

	registrarHandler := demux.NewRegistrar(a.registry, a.listener, log)
	a.registrarSrv = &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.RegistrarHost, cfg.RegistrarPort),
		Handler: registrarHandler,
	}

	a.metricsSrv = &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort),
		Handler: a.metrics.Handler(),
	}

	if cfg.CallControlEnabled {
		a.controller = callcontrol.NewHTTPController(cfg.CallControlBaseURL, http.DefaultClient, log)
	}

	return a, nil
}

func (a *app) activeCallCount() int {
	a.callsMu.Lock()
	defer a.callsMu.Unlock()
	return len(a.calls)
}

// onSessionCreated fires synchronously inside Registry.Register, so the
// actual dialog connect happens in its own goroutine — a slow websocket
// dial must never hold up the registrar's HTTP response to the PBX.
func (a *app) onSessionCreated(sess *media.Session) {
	go a.startCall(sess)
}

func (a *app) startCall(sess *media.Session) {
	log := a.log.With("session_id", sess.ID)

	var sinkFile *transcript.Sink
	var sink dialog.TranscriptSink
	if a.cfg.TranscriptLogOn {
		var err error
		sinkFile, err = transcript.Open(a.cfg.TranscriptLogDir, sess.ID, time.Now())
		if err != nil {
			log.Warn("failed to open transcript log, continuing without one", "error", err)
		} else {
			sink = sinkFile
		}
	}

	dialogClient := dialog.NewClient(dialog.Config{
		Endpoint: a.cfg.RealtimeEndpoint,
		APIKey: a.cfg.RealtimeAPIKey,
		Model: a.cfg.RealtimeModel,
		Voice: a.cfg.RealtimeVoice,
		Instructions: a.cfg.RealtimeInstructions,
	}, sess, sink, a.metrics, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dialogClient.Connect(ctx); err != nil {
		log.Error("failed to connect to realtime model, dropping call", "error", err)
		a.registry.Unregister(sess.ID)
		if sinkFile != nil {
			sinkFile.Close()
		}
		return
	}

	var transcriptCloser io.Closer
	if sinkFile != nil {
		transcriptCloser = sinkFile
	}

	sender := rtpio.NewPacedSender(a.listener.Conn(), sess, 8, a.metrics, log)
	call := bridge.NewCall(sess, dialogClient, sender, transcriptCloser, a.metrics, log)
	call.Start()

	a.callsMu.Lock()
	a.calls[sess.ID] = call
	a.callsMu.Unlock()
	a.metrics.SessionsActive.Set(float64(a.activeCallCount()))

	log.Info("call started")
}

func (a *app) onSessionClosed(sessionID string) {
	a.callsMu.Lock()
	call, ok := a.calls[sessionID]
	delete(a.calls, sessionID)
	a.callsMu.Unlock()
	if !ok {
		return
	}
	call.Stop()
	a.metrics.SessionsActive.Set(float64(a.activeCallCount()))
	a.log.Info("call ended", "session_id", sessionID)
}

func (a *app) onBargeIn(sessionID string) {
	a.callsMu.Lock()
	call, ok := a.calls[sessionID]
	a.callsMu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	call.BargeIn(ctx)
}

// Run starts every server and loop and blocks until ctx is cancelled,
// then shuts everything down in reverse order.
func (a *app) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("rtp listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("registrar listening", "addr", a.registrarSrv.Addr)
		if err := a.registrarSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("registrar server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("metrics listening", "addr", a.metricsSrv.Addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	if a.controller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runCallControl(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.log.Error("component failed, shutting down", "error", err)
	}

	a.shutdown()
	wg.Wait()
	return nil
}

func (a *app) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.registrarSrv.Shutdown(shutdownCtx)
	a.metricsSrv.Shutdown(shutdownCtx)
	a.listener.Close()

	a.callsMu.Lock()
	calls := make([]*bridge.Call, 0, len(a.calls))
	for _, c := range a.calls {
		calls = append(calls, c)
	}
	a.calls = make(map[string]*bridge.Call)
	a.callsMu.Unlock()

	for _, c := range calls {
		c.Stop()
	}

	if a.controller != nil {
		a.controller.Close()
	}
}

// runCallControl drives the PBX-side channel and bridge lifecycle: a new
// channel arriving gets its own session ID (minted here, since the PBX has
// no notion of one) and is wired into an external-media bridge pointed at
// this process's RTP listener; a channel ending tears that back down.
func (a *app) runCallControl(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.controller.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case callcontrol.EventChannelArrived:
				a.handleChannelArrived(ctx, ev)
			case callcontrol.EventChannelEnded:
				a.handleChannelEnded(ctx, ev)
			}
		}
	}
}

func (a *app) handleChannelArrived(ctx context.Context, ev callcontrol.Event) {
	sessionID := uuid.New().String()
	log := a.log.With("session_id", sessionID, "channel_id", ev.ChannelID)

	br, err := a.controller.CreateBridge(ctx)
	if err != nil {
		log.Error("failed to create bridge", "error", err)
		return
	}

	mediaChannel, err := a.controller.CreateExternalMediaChannel(ctx, sessionID, a.cfg.RTPListenHost, a.cfg.RTPListenPort)
	if err != nil {
		log.Error("failed to create external media channel", "error", err)
		a.controller.DeleteBridge(ctx, br)
		return
	}

	if err := a.controller.AnswerChannel(ctx, mediaChannel); err != nil {
		log.Error("failed to answer channel", "error", err)
	}
	if err := a.controller.AddChannelToBridge(ctx, br, mediaChannel); err != nil {
		log.Error("failed to add channel to bridge", "error", err)
	}

	a.trackedMu.Lock()
	a.tracked[sessionID] = trackedChannel{bridge: br, channel: mediaChannel}
	a.trackedMu.Unlock()

	log.Info("call-control channel bridged", "bridge_id", br.ID)
}

func (a *app) handleChannelEnded(ctx context.Context, ev callcontrol.Event) {
	a.trackedMu.Lock()
	tc, ok := a.tracked[ev.SessionID]
	delete(a.tracked, ev.SessionID)
	a.trackedMu.Unlock()
	if !ok {
		return
	}

	a.controller.HangupChannel(ctx, tc.channel)
	a.controller.DeleteBridge(ctx, tc.bridge)
	a.registry.Unregister(ev.SessionID)
}
