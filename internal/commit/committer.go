// Package commit turns a stream of revisable transcription hypotheses
// into an append-only committed transcript. Downstream consumers only
// ever see committed text: nothing speculative is shown, and once shown,
// text never changes.
package commit

import (
	"strings"
	"unicode/utf8"
)

// Config controls when a stable prefix becomes final.
type Config struct {
	// History is how many recent hypotheses must agree on a prefix.
	History int
	// MinChars is the minimum stable-prefix length, in runes, before
	// anything is committed.
	MinChars int
}

// DefaultConfig mirrors the session defaults.
func DefaultConfig() Config {
	return Config{History: 3, MinChars: 1}
}

// Committer tracks one language's hypothesis history and committed text.
// Not safe for concurrent use; the pipeline worker owns it.
type Committer struct {
	cfg       Config
	history   []string
	committed string
}

// New creates a committer. Zero or negative config fields fall back to
// the defaults.
func New(cfg Config) *Committer {
	if cfg.History < 1 {
		cfg.History = DefaultConfig().History
	}
	if cfg.MinChars < 1 {
		cfg.MinChars = DefaultConfig().MinChars
	}
	return &Committer{cfg: cfg}
}

// Committed returns the full committed transcript so far.
func (c *Committer) Committed() string {
	return c.committed
}

// Pending reports whether the latest hypothesis extends beyond the
// committed text.
func (c *Committer) Pending() bool {
	if len(c.history) == 0 {
		return false
	}
	latest := c.history[len(c.history)-1]
	return len(latest) > len(c.committed)
}

// Feed adds a hypothesis and returns the newly committed extension, or
// "" when nothing became stable enough. The committed transcript only
// ever grows by append.
//
// A hypothesis sharing no common prefix with the history (an ASR
// restart) resets the history to just that hypothesis; nothing already
// committed is retracted.
func (c *Committer) Feed(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if len(c.history) > 0 && commonPrefix(c.history[len(c.history)-1], text) == "" {
		c.history = c.history[:0]
	}

	c.history = append(c.history, text)
	if len(c.history) > c.cfg.History {
		c.history = c.history[1:]
	}

	stable := c.history[0]
	for _, h := range c.history[1:] {
		stable = commonPrefix(stable, h)
	}

	if len(stable) <= len(c.committed) || !strings.HasPrefix(stable, c.committed) {
		return ""
	}
	if utf8.RuneCountInString(stable) < c.cfg.MinChars {
		return ""
	}

	delta := stable[len(c.committed):]
	c.committed = stable
	return delta
}

// Finalize force-commits the uncommitted suffix of text, regardless of
// history depth or the minimum-length floor. Used on utterance end,
// language switch, and end of stream.
func (c *Committer) Finalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, c.committed) {
		return ""
	}
	delta := text[len(c.committed):]
	c.committed = text
	return delta
}

// Reset clears history and committed text for the next utterance.
func (c *Committer) Reset() {
	c.history = c.history[:0]
	c.committed = ""
}

// commonPrefix returns the longest common prefix of two strings on rune
// boundaries, so a commit never lands inside a multi-byte sequence.
func commonPrefix(a, b string) string {
	n := 0
	for n < len(a) && n < len(b) {
		ra, sa := utf8.DecodeRuneInString(a[n:])
		rb, _ := utf8.DecodeRuneInString(b[n:])
		if ra != rb {
			break
		}
		n += sa
	}
	return a[:n]
}
