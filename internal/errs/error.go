package errs

import (
	"errors"
)

// Shared error taxonomy. Fatal configuration errors are never retried,
// transient errors go back to the queue, session errors trigger a reconnect.
var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrUnsupportedChannelType = errors.New("unsupported channel type")
	ErrInvalidChannelConfig   = errors.New("invalid channel configuration")
	ErrUnsupportedContentType = errors.New("content type not supported by provider")

	ErrProviderNotConnected = errors.New("provider not connected")
	ErrChannelNotPaired     = errors.New("channel not paired")
	ErrSessionInvalidated   = errors.New("channel session invalidated")
	ErrQRCodeUnavailable    = errors.New("pairing code unavailable before connect")

	ErrSendMessageFailed = errors.New("message send failed")
	ErrMediaFetchFailed  = errors.New("media fetch failed")
	ErrMediaTooLarge     = errors.New("media exceeds size limit")
	ErrMalformedPayload  = errors.New("malformed webhook payload")

	ErrChannelNotFound        = errors.New("channel not found")
	ErrChannelDisabled        = errors.New("channel disabled")
	ErrDeliveryRecordNotFound = errors.New("delivery record not found")

	ErrJobNotFound = errors.New("job not found")
	ErrQueueClosed = errors.New("queue closed")
)

// IsConfiguration reports whether err belongs to the fatal, non-retryable class.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrUnsupportedChannelType) ||
		errors.Is(err, ErrInvalidChannelConfig) ||
		errors.Is(err, ErrUnsupportedContentType) ||
		errors.Is(err, ErrMediaTooLarge)
}

// IsSessionInvalidating reports whether err should move the channel to ERROR
// and trigger a reconnect instead of a blind retry.
func IsSessionInvalidating(err error) bool {
	return errors.Is(err, ErrSessionInvalidated)
}
