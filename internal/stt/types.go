package stt

import (
	"context"
	"fmt"
)

// Transcriber is the narrow contract the pipeline holds against a
// speech-recognition backend. One window of mono float samples in, one
// text hypothesis out; an empty hypothesis means silence. Backends are
// swappable without touching the core.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}

// TranscriptionError wraps a failed engine call. The pipeline's policy
// on one is to skip the current tick's window and retry on the next.
type TranscriptionError struct {
	Language string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (lang=%s): %v", e.Language, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
