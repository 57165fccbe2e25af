package mt

import (
	"context"
	"fmt"
)

// Translator is the narrow contract the pipeline holds against a
// machine-translation backend.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TranslationError wraps a failed engine call. The pipeline drops the
// affected chunk with a diagnostic and keeps the session alive.
type TranslationError struct {
	SourceLang string
	TargetLang string
	Err        error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation failed (%s->%s): %v", e.SourceLang, e.TargetLang, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
