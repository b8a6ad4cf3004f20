// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stagesched

import "time"

// schedulerOptions holds configuration resolved from SchedulerOption values.
type schedulerOptions struct {
	cpuCount          int
	logger            Logger
	metricsEnabled    bool
	maxAssignmentAge  time.Duration
	fixedCPUsPerStage int
	tickGranularity   time.Duration
}

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (s *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return s.applySchedulerFunc(opts)
}

// WithCPUCount sets the number of simulated CPUs brought up by New. Must be
// between 1 and maxCPUs.
func WithCPUCount(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n < 1 {
			return WrapError("WithCPUCount", &RangeError{Message: "cpu count must be >= 1"})
		}
		if n > maxCPUs {
			return WrapError("WithCPUCount", &RangeError{Message: "cpu count must be <= 64"})
		}
		opts.cpuCount = n
		return nil
	}}
}

// WithLogger sets the structured logger used for protocol events (stage
// rebalances, migrations, reaper activity). Assertion failures are not
// logged: assertInvariant panics directly. Defaults to a no-op logger.
func WithLogger(logger Logger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection (context switches,
// migrations, preemptions, queue depths, wake-latency/rebalance-interval
// percentiles). Accessible via Scheduler.Metrics once enabled.
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithMaxAssignmentAge overrides the default 20ms period of the background
// ticker that recomputes the stage→CPU assignment.
func WithMaxAssignmentAge(d time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return WrapError("WithMaxAssignmentAge", &RangeError{Message: "max assignment age must be positive"})
		}
		opts.maxAssignmentAge = d
		return nil
	}}
}

// WithFixedCPUsPerStage overrides the adaptive assignment with a static
// window of n consecutive CPUs per stage (capped at the CPU count), matching
// the source's fixed_cpus_per_stage tunable. A value of 0 (default) disables
// the override.
func WithFixedCPUsPerStage(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.fixedCPUsPerStage = n
		return nil
	}}
}

// WithTickGranularity sets the floor applied to a measured context-switch
// interval, used to clamp non-positive intervals caused by early boot or
// clock jumps.
func WithTickGranularity(d time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return WrapError("WithTickGranularity", &RangeError{Message: "tick granularity must be positive"})
		}
		opts.tickGranularity = d
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances over defaults.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		cpuCount:         1,
		logger:           NewNoOpLogger(),
		maxAssignmentAge: 20 * time.Millisecond,
		tickGranularity:  time.Microsecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// RangeError reports that a configuration value was outside its legal
// range.
type RangeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	if e.Message == "" {
		return "range error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RangeError) Unwrap() error {
	return e.Cause
}
