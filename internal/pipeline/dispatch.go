package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/mt"
	"github.com/crosstalklabs/speech-relay/internal/observability"
	"github.com/crosstalklabs/speech-relay/internal/protocol"
)

// Dispatcher sends committed transcript text through the translation
// engine and frames the result for the outbound writer. Chunks for a
// given source language are dispatched in commit order; a failed
// translation drops that chunk and later chunks proceed.
type Dispatcher struct {
	cfg        *config.Config
	translator mt.Translator
	out        chan<- []byte
	log        zerolog.Logger
	metrics    *observability.Metrics
	monitor    *observability.Monitor
	sessionID  string
}

// DispatcherParams collects the dependencies for NewDispatcher.
type DispatcherParams struct {
	Config     *config.Config
	Translator mt.Translator
	Out        chan<- []byte
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
	Monitor    *observability.Monitor
	SessionID  string
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		cfg:        p.Config,
		translator: p.Translator,
		out:        p.Out,
		log:        p.Logger,
		metrics:    p.Metrics,
		monitor:    p.Monitor,
		sessionID:  p.SessionID,
	}
}

// Dispatch translates text from srcLang into the opposite language and
// enqueues one or more text frames tagged with the target language.
// Translation failures are logged and the chunk is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, text, srcLang string) {
	if text == "" {
		return
	}
	target := d.cfg.OppositeLang(srcLang)

	start := time.Now()
	translated, err := d.translator.Translate(ctx, text, srcLang, target)
	if d.metrics != nil {
		d.metrics.Translation(start, err)
	}
	if err != nil {
		d.log.Warn().
			Err(err).
			Str("source_lang", srcLang).
			Str("target_lang", target).
			Int("chars", len(text)).
			Msg("Translation failed, dropping chunk")
		if d.metrics != nil {
			d.metrics.Error("translation", "mt")
		}
		return
	}
	if translated == "" {
		return
	}

	if d.monitor != nil {
		d.monitor.Publish(observability.TranscriptEvent{
			SessionID: d.sessionID,
			Kind:      observability.EventTranslation,
			Lang:      target,
			Text:      translated,
			Timestamp: time.Now().UTC(),
		})
	}

	flag := protocol.OutputFlag(target, d.cfg.Lang1Label)
	for _, chunk := range SplitUTF8(translated, d.cfg.TextMaxPayload) {
		frame := protocol.Encode(protocol.MsgText, flag, chunk)
		select {
		case d.out <- frame:
			if d.metrics != nil {
				d.metrics.FrameSent()
			}
		case <-ctx.Done():
			return
		}
	}
}
