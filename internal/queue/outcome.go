package queue

import "github.com/hidekivinicius2050/chatbot-sub002/internal/errs"

// OutcomeKind is the typed result a handler reports back to the queue engine.
// Only the engine decides retry vs terminal failure.
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeFatal
)

type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func Retry(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Classify maps an error onto an outcome using the shared taxonomy:
// configuration errors are fatal, everything else is retryable.
func Classify(err error) Outcome {
	if err == nil {
		return Success()
	}
	if errs.IsConfiguration(err) {
		return Fatal(err)
	}
	return Retry(err)
}
