package stage

import (
	"fmt"
	"time"
)

// RetryPolicy bounds how a failing stage is re-attempted.
type RetryPolicy struct {
	MaxAttempts       int           `toml:"max_attempts"`
	InitialBackoff    time.Duration `toml:"initial_backoff"`
	BackoffMultiplier float64       `toml:"backoff_multiplier"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
}

// Policy is the timeout and optional retry policy applied to one stage.
type Policy struct {
	Timeout time.Duration `toml:"timeout"`
	Retry   *RetryPolicy  `toml:"retry"`
}

// Backoff returns the delay before attempt n+1, where n counts from 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	delay := float64(p.InitialBackoff)
	multiplier := p.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	for i := 1; i < n; i++ {
		delay *= multiplier
		if p.MaxBackoff > 0 && time.Duration(delay) >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return time.Duration(delay)
}

func (p Policy) attempts() int {
	if p.Retry == nil || p.Retry.MaxAttempts < 1 {
		return 1
	}
	return p.Retry.MaxAttempts
}

// Validate reports the first invalid field of the policy.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", p.Timeout)
	}
	if p.Retry == nil {
		return nil
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.InitialBackoff < 0 {
		return fmt.Errorf("retry initial_backoff must not be negative, got %v", p.Retry.InitialBackoff)
	}
	if p.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff_multiplier must be at least 1, got %v", p.Retry.BackoffMultiplier)
	}
	return nil
}

// Policies holds the policy of every pipeline stage.
type Policies struct {
	List          Policy `toml:"list"`
	Scrape        Policy `toml:"scrape"`
	PersistSource Policy `toml:"persist_source"`
	Convert       Policy `toml:"convert"`
	PersistTarget Policy `toml:"persist_target"`
	Upload        Policy `toml:"upload"`
	Advance       Policy `toml:"advance"`
}

func retry(attempts int, initial time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       attempts,
		InitialBackoff:    initial,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Minute,
	}
}

// DefaultPolicies returns the production stage policies. Collaborator calls
// retry; conversion and local store writes fail fast.
func DefaultPolicies() Policies {
	return Policies{
		List:          Policy{Timeout: 180 * time.Second, Retry: retry(3, 10*time.Second)},
		Scrape:        Policy{Timeout: 120 * time.Second, Retry: retry(3, 10*time.Second)},
		PersistSource: Policy{Timeout: 30 * time.Second},
		Convert:       Policy{Timeout: 60 * time.Second},
		PersistTarget: Policy{Timeout: 30 * time.Second},
		Upload:        Policy{Timeout: 120 * time.Second, Retry: retry(3, 5*time.Second)},
		Advance:       Policy{Timeout: 10 * time.Second},
	}
}

// Validate checks every stage policy.
func (p Policies) Validate() error {
	checks := []struct {
		name   string
		policy Policy
	}{
		{"list", p.List},
		{"scrape", p.Scrape},
		{"persist_source", p.PersistSource},
		{"convert", p.Convert},
		{"persist_target", p.PersistTarget},
		{"upload", p.Upload},
		{"advance", p.Advance},
	}
	for _, c := range checks {
		if err := c.policy.Validate(); err != nil {
			return fmt.Errorf("stage %s: %w", c.name, err)
		}
	}
	return nil
}
