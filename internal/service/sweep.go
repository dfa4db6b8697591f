package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/livinlefevreloca/relay/internal/pipeline"
	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/livinlefevreloca/relay/internal/runs"
)

// SweepConfig controls the background re-upload of records resting at
// converted after a failed delivery.
type SweepConfig struct {
	Enabled  bool          `toml:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `toml:"interval"`
	Jitter   time.Duration `toml:"jitter"`
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Enabled:  false,
		Interval: 15 * time.Minute,
		Jitter:   30 * time.Second,
	}
}

func (c SweepConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Jitter < 0 || c.Jitter >= c.Interval {
		return fmt.Errorf("jitter must be in [0, interval), got %v", c.Jitter)
	}
	return nil
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Attempted int                `json:"attempted"`
	Sent      int                `json:"sent"`
	Outcomes  []pipeline.Outcome `json:"outcomes"`
}

// SweepOnce runs an upload-only pipeline for every record resting at
// converted, one after another.
func (s *Service) SweepOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	for _, kind := range []record.Kind{record.KindOrder, record.KindCall} {
		pending, err := s.store.ListRecordsByStatus(ctx, kind, record.StatusConverted)
		if err != nil {
			return report, fmt.Errorf("failed to list converted %s records: %w", kind, err)
		}
		for _, rec := range pending {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			id := runs.NewID(runs.PrefixUpload, string(kind), rec.Ref)
			outcome := s.pipelines.Run(ctx, id, pipeline.Request{
				Kind: kind,
				Ref:  rec.Ref,
				Mode: pipeline.ModeUploadOnly,
			})
			report.Attempted++
			if outcome.Result == pipeline.ResultSuccess {
				report.Sent++
			}
			report.Outcomes = append(report.Outcomes, outcome)
		}
	}
	return report, nil
}

// RunSweep sweeps on a jittered interval until ctx is cancelled.
func (s *Service) RunSweep(ctx context.Context, config SweepConfig) error {
	if !config.Enabled {
		return nil
	}
	ticker := jitterbug.New(config.Interval, &jitterbug.Norm{Stdev: config.Jitter})
	defer ticker.Stop()

	s.logger.Info("upload sweep started", "interval", config.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("upload sweep stopped")
			return nil
		case <-ticker.C:
		}

		report, err := s.SweepOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("upload sweep failed", "error", err)
			continue
		}
		if report.Attempted > 0 {
			s.logger.Info("upload sweep finished", "attempted", report.Attempted, "sent", report.Sent)
		}
	}
}
