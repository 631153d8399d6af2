package retry

import (
	"fmt"
	"time"

	"github.com/ecodeclub/ekit/retry"
)

type Config struct {
	Type               string                    `json:"type" yaml:"type"`
	FixedInterval      *FixedIntervalConfig      `json:"fixedInterval" yaml:"fixedInterval"`
	ExponentialBackoff *ExponentialBackoffConfig `json:"exponentialBackoff" yaml:"exponentialBackoff"`
}

type ExponentialBackoffConfig struct {
	// initial retry interval in ms
	InitialInterval int `json:"initialInterval" yaml:"initialInterval"`
	// max retry interval in ms
	MaxInterval int   `json:"maxInterval" yaml:"maxInterval"`
	MaxRetries  int32 `json:"maxRetries" yaml:"maxRetries"`
}

type FixedIntervalConfig struct {
	MaxRetries int32 `json:"maxRetries" yaml:"maxRetries"`
	Interval   int   `json:"interval" yaml:"interval"`
}

func NewRetry(cfg Config) (retry.Strategy, error) {
	switch cfg.Type {
	case "fixed":
		if cfg.FixedInterval == nil {
			return nil, fmt.Errorf("retry type %q missing its fixedInterval block", cfg.Type)
		}
		return retry.NewFixedIntervalRetryStrategy(msToDuration(cfg.FixedInterval.Interval), cfg.FixedInterval.MaxRetries)
	case "exponential":
		if cfg.ExponentialBackoff == nil {
			return nil, fmt.Errorf("retry type %q missing its exponentialBackoff block", cfg.Type)
		}
		return retry.NewExponentialBackoffRetryStrategy(msToDuration(cfg.ExponentialBackoff.InitialInterval), msToDuration(cfg.ExponentialBackoff.MaxInterval), cfg.ExponentialBackoff.MaxRetries)
	default:
		return nil, fmt.Errorf("unknown retry type: %s", cfg.Type)
	}
}

// MaxRetries exposes the attempt budget carried by the config.
func (c Config) MaxRetries() int32 {
	switch c.Type {
	case "fixed":
		if c.FixedInterval != nil {
			return c.FixedInterval.MaxRetries
		}
	case "exponential":
		if c.ExponentialBackoff != nil {
			return c.ExponentialBackoff.MaxRetries
		}
	}
	return 0
}

// DelayFor returns the backoff delay before attempt number attempt
// (1-based, i.e. the delay scheduled after the attempt-th failure).
// ok is false once the attempt budget is exhausted.
func DelayFor(cfg Config, attempt int32) (delay time.Duration, ok bool, err error) {
	strategy, err := NewRetry(cfg)
	if err != nil {
		return 0, false, err
	}
	for i := int32(0); i < attempt; i++ {
		delay, ok = strategy.Next()
		if !ok {
			return 0, false, nil
		}
	}
	return delay, ok, nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
