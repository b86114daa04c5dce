package breaker

import (
	"errors"
	"fmt"
	"time"

	"gateway/internal/models"
)

// Options configures a single breaker.
type Options struct {
	// Timeout bounds a single wrapped call. The caller is released with a
	// *TimeoutError when it elapses.
	Timeout time.Duration
	// ErrorThresholdPercentage trips the breaker when the rolling error rate
	// strictly exceeds it.
	ErrorThresholdPercentage float64
	// ResetTimeout is the time spent OPEN before a trial call is admitted.
	ResetTimeout time.Duration
	// RollingWindow is the length of the statistics window, split into
	// RollingBuckets buckets.
	RollingWindow  time.Duration
	RollingBuckets int
	// VolumeThreshold is the minimum number of calls in the window before
	// the error rate is evaluated.
	VolumeThreshold  int
	HalfOpenMaxCalls int
	// ErrorFilter, when set, marks errors that must not count as failures.
	// They are still returned to the caller.
	ErrorFilter func(error) bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          8,
		HalfOpenMaxCalls:         1,
	}
}

func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if o.ErrorThresholdPercentage <= 0 || o.ErrorThresholdPercentage > 100 {
		return errors.New("error threshold percentage must be in (0, 100]")
	}
	if o.ResetTimeout <= 0 {
		return errors.New("reset timeout must be positive")
	}
	if o.RollingWindow <= 0 || o.RollingBuckets <= 0 {
		return errors.New("rolling window and buckets must be positive")
	}
	if o.VolumeThreshold < 0 {
		return errors.New("volume threshold cannot be negative")
	}
	if o.HalfOpenMaxCalls <= 0 {
		return errors.New("half open max calls must be positive")
	}
	return nil
}

// withOverride applies the non-zero fields of an override.
func (o Options) withOverride(ov models.BreakerOverride) Options {
	if ov.Timeout > 0 {
		o.Timeout = ov.Timeout
	}
	if ov.ErrorThresholdPercentage > 0 {
		o.ErrorThresholdPercentage = ov.ErrorThresholdPercentage
	}
	if ov.ResetTimeout > 0 {
		o.ResetTimeout = ov.ResetTimeout
	}
	if ov.RollingWindow > 0 {
		o.RollingWindow = ov.RollingWindow
	}
	if ov.RollingBuckets > 0 {
		o.RollingBuckets = ov.RollingBuckets
	}
	if ov.VolumeThreshold > 0 {
		o.VolumeThreshold = ov.VolumeThreshold
	}
	if ov.HalfOpenMaxCalls > 0 {
		o.HalfOpenMaxCalls = ov.HalfOpenMaxCalls
	}
	return o
}

// OptionsFromConfig converts the breaker configuration section into default
// options plus one Options value per overridden service. Every resulting
// Options value is validated.
func OptionsFromConfig(cfg models.BreakerConfig) (Options, map[string]Options, error) {
	defaults := Options{
		Timeout:                  cfg.Timeout,
		ErrorThresholdPercentage: cfg.ErrorThresholdPercentage,
		ResetTimeout:             cfg.ResetTimeout,
		RollingWindow:            cfg.RollingWindow,
		RollingBuckets:           cfg.RollingBuckets,
		VolumeThreshold:          cfg.VolumeThreshold,
		HalfOpenMaxCalls:         cfg.HalfOpenMaxCalls,
	}

	if err := defaults.Validate(); err != nil {
		return Options{}, nil, fmt.Errorf("invalid breaker defaults: %w", err)
	}

	overrides := make(map[string]Options, len(cfg.Overrides))
	for service, ov := range cfg.Overrides {
		if err := ov.Validate(); err != nil {
			return Options{}, nil, fmt.Errorf("invalid breaker override for %s: %w", service, err)
		}
		opts := defaults.withOverride(ov)
		if err := opts.Validate(); err != nil {
			return Options{}, nil, fmt.Errorf("invalid breaker override for %s: %w", service, err)
		}
		overrides[service] = opts
	}
	return defaults, overrides, nil
}
