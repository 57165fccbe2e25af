package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/crosstalklabs/speech-relay/internal/audio"
	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/mt"
	"github.com/crosstalklabs/speech-relay/internal/observability"
	"github.com/crosstalklabs/speech-relay/internal/pipeline"
	"github.com/crosstalklabs/speech-relay/internal/protocol"
	"github.com/crosstalklabs/speech-relay/internal/stt"
)

const readBufSize = 8192

// Session coordinates one push-to-talk connection: a socket reader that
// decodes frames and pushes audio into the ring, a pipeline worker that
// transcribes and translates, and a socket writer that drains the
// outbound frame queue. The three run under one errgroup; any one
// failing tears the session down.
type Session struct {
	ID   string
	conn net.Conn

	cfg     *config.Config
	log     zerolog.Logger
	metrics *observability.Metrics
	monitor *observability.Monitor

	decoder *protocol.Decoder
	demuxer *audio.Demuxer
	ring    *audio.Ring
	gate    *audio.SilenceGate
	out     chan []byte
	worker  *pipeline.Worker
}

// Params collects the dependencies for New.
type Params struct {
	Conn        net.Conn
	Config      *config.Config
	Transcriber stt.Transcriber
	Translator  mt.Translator
	Monitor     *observability.Monitor
}

// New builds a session around an accepted connection. It does not start
// any goroutines; call Run.
func New(p Params) (*Session, error) {
	demuxer, err := audio.NewDemuxer(p.Config.Channels, p.Config.BitDepth)
	if err != nil {
		return nil, err
	}

	var metrics *observability.Metrics
	if p.Config.MetricsEnabled {
		metrics = observability.NewSessionMetrics()
	}

	id := observability.NewSessionID()
	s := &Session{
		ID:      id,
		conn:    p.Conn,
		cfg:     p.Config,
		log:     observability.SessionLogger(id),
		metrics: metrics,
		monitor: p.Monitor,
		decoder: protocol.NewDecoder(p.Config.MaxPayload),
		demuxer: demuxer,
		ring:    audio.NewRing(p.Config.BufferCapacity()),
		gate:    audio.NewSilenceGate(p.Config.SilenceRMS),
		out:     make(chan []byte, p.Config.OutboundQueueSize),
	}

	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherParams{
		Config:     p.Config,
		Translator: p.Translator,
		Out:        s.out,
		Logger:     s.log,
		Metrics:    metrics,
		Monitor:    p.Monitor,
		SessionID:  id,
	})
	s.worker = pipeline.NewWorker(pipeline.WorkerParams{
		Config:      p.Config,
		Ring:        s.ring,
		Gate:        s.gate,
		Transcriber: p.Transcriber,
		Dispatcher:  dispatcher,
		Logger:      s.log,
		Metrics:     metrics,
		Monitor:     p.Monitor,
		SessionID:   id,
	})
	return s, nil
}

// Run blocks until the session ends: the client disconnects, a protocol
// violation occurs, a write fails, or ctx is cancelled. The connection
// is closed before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info().
		Str("remote_addr", s.conn.RemoteAddr().String()).
		Str("lang1", s.cfg.Lang1Label).
		Str("lang2", s.cfg.Lang2Label).
		Msg("Session started")
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	// Unblock the blocking Read when the group dies.
	stop := context.AfterFunc(gctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// A clean EOF from the reader is not an error, so the worker gets
	// its own cancel tied to the reader finishing for any reason.
	workerCtx, stopWorker := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopWorker()
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		// The worker flushes pending text on cancellation, so the
		// outbound queue closes only after that final text is queued.
		err := s.worker.Run(workerCtx)
		close(s.out)
		return err
	})
	g.Go(s.writeLoop)

	err := g.Wait()
	s.conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEnd()
	}
	s.log.Info().
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Session ended")
	return err
}

// readLoop pulls bytes off the socket, reassembles frames and routes
// audio payloads into the ring. A clean EOF ends the session without
// error; a malformed header ends it with the protocol error.
func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufSize)
	lang := ""

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, decErr := s.decoder.Feed(buf[:n])
			for _, f := range frames {
				lang = s.handleFrame(f, lang)
			}
			if decErr != nil {
				var perr *protocol.ProtocolError
				if errors.As(decErr, &perr) {
					s.log.Error().
						Uint8("magic", perr.Magic).
						Uint8("version", perr.Version).
						Msg("Protocol violation, closing session")
					if s.metrics != nil {
						s.metrics.ProtocolError()
					}
				}
				return decErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Debug().Msg("Client closed the stream")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Session) handleFrame(f protocol.Frame, lang string) string {
	switch f.MsgType {
	case protocol.MsgAudio:
		if s.metrics != nil {
			s.metrics.FrameReceived("audio", len(f.Payload))
		}
		next := protocol.InputFlagLang(f.Flags, lang, s.cfg.Lang1Label, s.cfg.Lang2Label)
		if next == "" {
			s.log.Debug().Uint8("flags", f.Flags).Msg("Audio frame with no language flag, dropping")
			return lang
		}
		ch := audio.Left
		if next == s.cfg.Lang2Label {
			ch = audio.Right
		}
		if next != lang {
			s.demuxer.Reset()
		}
		samples := s.demuxer.Demux(f.Payload, ch)
		if len(samples) > 0 {
			s.ring.Push(samples, next)
			s.gate.Observe(samples, time.Now())
		}
		return next
	case protocol.MsgText:
		// Text frames only flow server to client.
		if s.metrics != nil {
			s.metrics.FrameReceived("text", len(f.Payload))
		}
		s.log.Debug().Msg("Ignoring inbound text frame")
		return lang
	default:
		s.log.Debug().Uint8("msg_type", f.MsgType).Msg("Ignoring unknown frame type")
		return lang
	}
}

// writeLoop drains the outbound queue to the socket. It has no context
// case on purpose: it must keep writing until the worker's final flush
// has been queued and the channel closed.
func (s *Session) writeLoop() error {
	for frame := range s.out {
		s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if _, err := s.conn.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
