package audio

import (
	"math"
	"sync"
	"time"
)

// SilenceGate tracks when speech was last heard on the sample stream so
// the pipeline can detect an utterance end. A push-to-talk client usually
// just stops sending when the button is released, but some senders keep
// streaming silent frames; the gate handles both by timing the last
// frame whose RMS energy cleared the threshold.
type SilenceGate struct {
	threshold float64

	mu         sync.Mutex
	lastVoice  time.Time
	firstAudio time.Time
}

// NewSilenceGate creates a gate with the given RMS energy threshold on
// normalized [-1, 1] samples.
func NewSilenceGate(threshold float64) *SilenceGate {
	return &SilenceGate{threshold: threshold}
}

// Observe records a chunk's arrival and returns whether it carried voice.
func (g *SilenceGate) Observe(samples []float32, now time.Time) bool {
	voiced := RMS(samples) > g.threshold

	g.mu.Lock()
	if g.firstAudio.IsZero() {
		g.firstAudio = now
	}
	if voiced {
		g.lastVoice = now
	}
	g.mu.Unlock()
	return voiced
}

// QuietFor returns how long it has been since the last voiced chunk.
// Before any voiced audio it reports the time since the first observed
// chunk, so a stream of nothing but silent frames still accumulates
// quiet time. Zero when nothing has arrived yet.
func (g *SilenceGate) QuietFor(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	ref := g.lastVoice
	if ref.IsZero() {
		ref = g.firstAudio
	}
	if ref.IsZero() {
		return 0
	}
	return now.Sub(ref)
}

// Reset forgets all observed audio.
func (g *SilenceGate) Reset() {
	g.mu.Lock()
	g.lastVoice = time.Time{}
	g.firstAudio = time.Time{}
	g.mu.Unlock()
}

// RMS computes the root mean square energy of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
