package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/mt"
	"github.com/crosstalklabs/speech-relay/internal/observability"
	"github.com/crosstalklabs/speech-relay/internal/session"
	"github.com/crosstalklabs/speech-relay/internal/stt"
)

// Server accepts framed TCP connections from push-to-talk clients. The
// relay serves one talker pair at a time: accepting a new connection
// cancels the session on the previous one, so a client that reconnects
// after a crash is never locked out by its own stale socket.
type Server struct {
	cfg         *config.Config
	log         zerolog.Logger
	transcriber stt.Transcriber
	translator  mt.Translator
	monitor     *observability.Monitor

	mu      sync.Mutex
	ln      net.Listener
	current context.CancelFunc
}

// Params collects the dependencies for New.
type Params struct {
	Config      *config.Config
	Transcriber stt.Transcriber
	Translator  mt.Translator
	Monitor     *observability.Monitor
}

func New(p Params) *Server {
	return &Server{
		cfg:         p.Config,
		log:         observability.GetLogger().With().Str("component", "server").Logger(),
		transcriber: p.Transcriber,
		translator:  p.Translator,
		monitor:     p.Monitor,
	}
}

// ListenAndServe blocks accepting connections until ctx is cancelled.
// Active sessions are cancelled and waited for before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Relay listening")

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn().Err(err).Msg("Accept failed")
			continue
		}
		s.serve(ctx, conn, &wg)
	}

	s.supersede()
	wg.Wait()
	s.log.Info().Msg("Relay stopped")
	return nil
}

// Addr returns the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serve(ctx context.Context, conn net.Conn, wg *sync.WaitGroup) {
	s.supersede()

	sessCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.current = cancel
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		sess, err := session.New(session.Params{
			Conn:        conn,
			Config:      s.cfg,
			Transcriber: s.transcriber,
			Translator:  s.translator,
			Monitor:     s.monitor,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to set up session")
			conn.Close()
			return
		}
		if err := sess.Run(sessCtx); err != nil {
			s.log.Warn().Str("session_id", sess.ID).Err(err).Msg("Session ended with error")
		}
	}()
}

// supersede cancels the current session, if any.
func (s *Server) supersede() {
	s.mu.Lock()
	cancel := s.current
	s.current = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
