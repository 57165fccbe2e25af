package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalklabs/speech-relay/internal/audio"
	"github.com/crosstalklabs/speech-relay/internal/commit"
	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/observability"
	"github.com/crosstalklabs/speech-relay/internal/stt"
)

// Worker drives the transcription loop for one session. On each tick it
// drains pending language boundary markers, checks for an utterance-end
// gap, reads the current sliding window, transcribes it, feeds the
// hypothesis to the active language's committer and hands any newly
// committed text to the dispatcher.
//
// The worker owns all per-language commit state. It runs on a single
// goroutine; the ring and silence gate are the only structures it
// shares with the socket reader.
type Worker struct {
	cfg         *config.Config
	ring        *audio.Ring
	gate        *audio.SilenceGate
	transcriber stt.Transcriber
	dispatcher  *Dispatcher
	log         zerolog.Logger
	metrics     *observability.Metrics
	monitor     *observability.Monitor
	sessionID   string

	activeLang  string
	committers  map[string]*commit.Committer
	lastHyp     string
	overwritten uint64
}

// WorkerParams collects the dependencies for NewWorker.
type WorkerParams struct {
	Config      *config.Config
	Ring        *audio.Ring
	Gate        *audio.SilenceGate
	Transcriber stt.Transcriber
	Dispatcher  *Dispatcher
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	Monitor     *observability.Monitor
	SessionID   string
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		cfg:         p.Config,
		ring:        p.Ring,
		gate:        p.Gate,
		transcriber: p.Transcriber,
		dispatcher:  p.Dispatcher,
		log:         p.Logger,
		metrics:     p.Metrics,
		monitor:     p.Monitor,
		sessionID:   p.SessionID,
		committers:  make(map[string]*commit.Committer),
	}
}

// Run ticks at the configured step rate until ctx is cancelled, then
// performs a final flush so text still pending when the client hangs up
// is not lost. The flush gets its own short deadline since the session
// context is already dead by then.
func (w *Worker) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / w.cfg.StepHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(flushCtx, "session end")
			cancel()
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	for {
		b, ok := w.ring.TakeBoundary()
		if !ok {
			break
		}
		if w.activeLang != "" && b.Lang != w.activeLang {
			w.log.Debug().
				Str("from", w.activeLang).
				Str("to", b.Lang).
				Msg("Language switch, flushing active transcript")
			w.flush(ctx, "language switch")
		}
		w.activeLang = b.Lang
	}
	if w.activeLang == "" {
		return
	}

	if w.hasPending() {
		gap := time.Duration(w.cfg.NoSpeechGapMs) * time.Millisecond
		if quiet := w.gate.QuietFor(time.Now()); quiet >= gap {
			w.flush(ctx, "speech gap")
			w.ring.Clear()
			return
		}
	}

	if w.metrics != nil {
		if n := w.ring.Overwritten(); n > w.overwritten {
			w.metrics.SamplesOverwritten(n - w.overwritten)
			w.overwritten = n
		}
	}

	window := w.ring.ReadWindow(w.cfg.WindowSamples(), w.cfg.MinWindowSamples(), w.activeLang)
	if window == nil {
		return
	}

	start := time.Now()
	text, err := w.transcriber.Transcribe(ctx, window, w.activeLang)
	if w.metrics != nil {
		w.metrics.Transcription(start, err)
	}
	if err != nil {
		w.log.Warn().
			Err(err).
			Str("lang", w.activeLang).
			Msg("Transcription failed, skipping tick")
		if w.metrics != nil {
			w.metrics.Error("transcription", "stt")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if text == "" {
		return
	}

	w.lastHyp = text
	delta := w.committer(w.activeLang).Feed(text)
	w.emit(ctx, delta)
}

// flush force-commits whatever the active committer is still holding
// back, dispatches it and resets the utterance state. The ring is left
// alone; callers that want the audio gone clear it themselves.
func (w *Worker) flush(ctx context.Context, reason string) {
	if w.activeLang == "" {
		return
	}
	c := w.committer(w.activeLang)
	delta := c.Finalize(w.lastHyp)
	if delta != "" {
		w.log.Debug().
			Str("lang", w.activeLang).
			Str("reason", reason).
			Int("chars", len(delta)).
			Msg("Flushing pending transcript")
	}
	w.emit(ctx, delta)
	c.Reset()
	w.lastHyp = ""
	w.gate.Reset()
}

func (w *Worker) emit(ctx context.Context, delta string) {
	if delta == "" {
		return
	}
	if w.metrics != nil {
		w.metrics.Commit(w.activeLang, len([]rune(delta)))
	}
	if w.monitor != nil {
		w.monitor.Publish(observability.TranscriptEvent{
			SessionID: w.sessionID,
			Kind:      observability.EventCommit,
			Lang:      w.activeLang,
			Text:      delta,
			Timestamp: time.Now().UTC(),
		})
	}
	w.dispatcher.Dispatch(ctx, delta, w.activeLang)
}

func (w *Worker) committer(lang string) *commit.Committer {
	c, ok := w.committers[lang]
	if !ok {
		c = commit.New(commit.Config{
			History:  w.cfg.CommitHistory,
			MinChars: w.cfg.CommitMinChars,
		})
		w.committers[lang] = c
	}
	return c
}

func (w *Worker) hasPending() bool {
	if w.lastHyp != "" {
		return true
	}
	c, ok := w.committers[w.activeLang]
	return ok && c.Pending()
}
