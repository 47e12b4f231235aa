// Package sfu wires every other package into the HTTP/WebSocket surface:
// GET /code, GET /signal, and the ambient /health and /metrics routes.
package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/huddlertc/sfu/internals/code"
	"github.com/huddlertc/sfu/internals/config"
	"github.com/huddlertc/sfu/internals/errs"
	"github.com/huddlertc/sfu/internals/session"
	"github.com/huddlertc/sfu/internals/signaling"
	"github.com/huddlertc/sfu/internals/state"
	"github.com/huddlertc/sfu/internals/track"
)

// Server is the top-level object owning the HTTP listener, the shared
// webrtc.API (codec registration is process-wide, see buildWebRTCAPI) and
// the room registry.
type Server struct {
	config *config.Config
	logger *zap.Logger

	webrtcAPI    *webrtc.API
	webrtcConfig webrtc.Configuration

	state *state.State

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the shared webrtc.API once (codec + interceptor
// registration is not safe to repeat per-connection) and the process-wide
// room registry.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	webrtcAPI, webrtcConfig, err := buildWebRTCAPI(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Server{
		config:       cfg,
		logger:       logger,
		webrtcAPI:    webrtcAPI,
		webrtcConfig: webrtcConfig,
		state:        state.New(ctx, logger),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func buildWebRTCAPI(cfg *config.Config, logger *zap.Logger) (*webrtc.API, webrtc.Configuration, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, webrtc.Configuration{}, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, webrtc.Configuration{}, fmt.Errorf("register default interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.WebRTC.UDPPortRange.Min > 0 && cfg.WebRTC.UDPPortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.WebRTC.UDPPortRange.Min, cfg.WebRTC.UDPPortRange.Max); err != nil {
			return nil, webrtc.Configuration{}, fmt.Errorf("set UDP port range: %w", err)
		}
	}
	if cfg.WebRTC.PublicIP != "" {
		settingEngine.SetNAT1To1IPs([]string{cfg.WebRTC.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	webrtcConfig := webrtc.Configuration{
		ICEServers: make([]webrtc.ICEServer, len(cfg.WebRTC.ICEServers)),
	}
	for i, s := range cfg.WebRTC.ICEServers {
		webrtcConfig.ICEServers[i] = webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		}
	}

	logger.Info("webrtc API initialized",
		zap.Uint16("udpPortMin", cfg.WebRTC.UDPPortRange.Min),
		zap.Uint16("udpPortMax", cfg.WebRTC.UDPPortRange.Max))

	return api, webrtcConfig, nil
}

// Start installs the routes and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/code", s.handleCode)
	mux.HandleFunc("/signal", s.handleSignal)
	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	go func() {
		<-s.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer shutdownCancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("sfu server listening",
		zap.String("host", s.config.Server.Host), zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

// Stop triggers graceful shutdown of the HTTP listener.
func (s *Server) Stop() {
	s.cancel()
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"code": code.Generate()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSignal validates the room code, upgrades to a WebSocket transport,
// and drives one Session end to end: admission, inbound dispatch, track
// fanout, and departure on transport close.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("code")
	if roomCode == "" {
		writeJSONError(w, http.StatusBadRequest, "missing query parameter 'code'")
		return
	}
	if !code.IsValid(roomCode) {
		writeJSONError(w, http.StatusBadRequest, "invalid query parameter 'code'")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	logger := s.logger
	channel := signaling.NewChannel(conn, logger)
	sink := errs.NewSink(logger)

	sess, err := session.New(s.state, roomCode, channel, s.webrtcAPI, s.webrtcConfig, logger)
	if err != nil {
		sink.Send(err)
		channel.Close()
		return
	}

	pipe := track.NewPipe(sess.PeerID(), sink)
	sess.On(session.Handlers{
		Connected: func() { sink.Send(sess.HandleConnected()) },
		Candidate: func(c webrtc.ICECandidateInit) { sink.Send(channel.Send(signaling.CandidateMessage(c))) },
		Track:     func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) { pipe.Forward(remote) },
	})

	// The room's StatsCollector is started once, by State.GetRoom, when the
	// room is created; it runs for the room's lifetime, not this connection's.

	limiter := rate.NewLimiter(rate.Limit(s.config.RateLimit.PerSecond), s.config.RateLimit.Burst)

	go sink.Run(func(error) { sess.Leave() })

	go func() {
		for t := range pipe.Tracks() {
			if err := sess.HandleTrack(t); err != nil {
				sink.Send(err)
				return
			}
		}
	}()

	for {
		msg, err := channel.Recv()
		if err != nil {
			sink.Send(err)
			break
		}
		if err := limiter.Wait(s.ctx); err != nil {
			break
		}
		if err := sess.HandleMessage(msg); err != nil {
			sink.Send(err)
			break
		}
	}

	// The sink's Run goroutine and the track-drain goroutine above are left
	// to finish on their own: per the session-lifetime contract, cancellation
	// is driven entirely by transport closure, and any in-flight track or
	// error-sink work either completes naturally or is orphaned.
	sess.Leave()
	channel.Close()
}
