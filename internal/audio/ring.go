package audio

import (
	"sync"
)

// Boundary marks a language change in the sample stream. Offset is the
// absolute sample count at which the new language began.
type Boundary struct {
	Lang   string
	Offset uint64
}

// Ring is a fixed-capacity circular store of mono float32 samples shared
// between the socket reader (push side) and the pipeline worker (read
// side). When full, the oldest samples are overwritten: bounded memory
// and lossy degradation under load, never a blocked reader. All critical
// sections are short; no lock is ever held across an inference call.
type Ring struct {
	mu          sync.Mutex
	data        []float32
	head        int // next write index
	size        int
	total       uint64 // absolute samples pushed since creation
	overwritten uint64 // samples lost to overwrite
	lang        string
	langSamples int // samples since the last language boundary, capped at capacity
	boundaries  []Boundary
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]float32, capacity)}
}

// Push appends samples tagged with a language. A tag different from the
// previous push is recorded as a boundary marker so the scheduler can
// detect the utterance transition; markers are never silently dropped.
func (r *Ring) Push(samples []float32, lang string) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if lang != r.lang {
		r.lang = lang
		r.langSamples = 0
		r.boundaries = append(r.boundaries, Boundary{Lang: lang, Offset: r.total})
	}

	capacity := len(r.data)
	src := samples
	if len(src) > capacity {
		// More than a full ring in one push: only the tail survives anyway.
		src = src[len(src)-capacity:]
	}

	n := len(src)
	first := capacity - r.head
	if first > n {
		first = n
	}
	copy(r.data[r.head:], src[:first])
	copy(r.data, src[first:])
	r.head = (r.head + n) % capacity

	r.total += uint64(len(samples))
	if r.size+len(samples) > capacity {
		r.overwritten += uint64(r.size + len(samples) - capacity)
		r.size = capacity
	} else {
		r.size += len(samples)
	}
	if r.langSamples += len(samples); r.langSamples > capacity {
		r.langSamples = capacity
	}
}

// ReadWindow returns a copy of the most recent windowSamples buffered for
// lang, or nil when lang is not the active language or fewer than
// minSamples of it are buffered. The returned slice is in arrival order.
func (r *Ring) ReadWindow(windowSamples, minSamples int, lang string) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lang != r.lang {
		return nil
	}
	avail := r.langSamples
	if avail > r.size {
		avail = r.size
	}
	if avail < minSamples || avail == 0 {
		return nil
	}

	n := windowSamples
	if n > avail {
		n = avail
	}

	out := make([]float32, n)
	capacity := len(r.data)
	start := (r.head - n + capacity*2) % capacity
	first := capacity - start
	if first > n {
		first = n
	}
	copy(out, r.data[start:start+first])
	copy(out[first:], r.data[:n-first])
	return out
}

// ActiveLang returns the language tag of the most recent push.
func (r *Ring) ActiveLang() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lang
}

// TakeBoundary pops the oldest pending language boundary, if any.
func (r *Ring) TakeBoundary() (Boundary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.boundaries) == 0 {
		return Boundary{}, false
	}
	b := r.boundaries[0]
	r.boundaries = r.boundaries[1:]
	return b, true
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed sample capacity.
func (r *Ring) Capacity() int {
	return len(r.data)
}

// TotalPushed returns the absolute number of samples ever pushed.
func (r *Ring) TotalPushed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Overwritten returns the number of samples lost to overwrite-on-full.
func (r *Ring) Overwritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwritten
}

// Clear drops all buffered samples and pending boundaries. The active
// language tag and absolute counters survive.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
	r.langSamples = 0
	r.boundaries = nil
}
