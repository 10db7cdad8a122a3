package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bosun-ci/bosun/internal/poll"
	"github.com/bosun-ci/bosun/remote"
)

const (
	readyInterval = 10 * time.Second
	readyAttempts = 20
)

// Pipeline runs an instance's bootstrap steps in declared order. Each
// step waits for the remote shell to answer before executing; a step
// failure aborts the sequence and leaves the instance running, partially
// configured, for inspection.
type Pipeline struct {
	log *slog.Logger

	interval time.Duration
	attempts int
}

func NewPipeline(log *slog.Logger) *Pipeline {
	return &Pipeline{
		log:      log,
		interval: readyInterval,
		attempts: readyAttempts,
	}
}

func (p *Pipeline) Run(ctx context.Context, instanceID string, t remote.Transport, steps []Step) error {
	for i, step := range steps {
		log := p.log.With("instance", instanceID, "step", step.Describe())

		log.Debug("Waiting for remote shell")
		if err := p.waitReady(ctx, instanceID, t); err != nil {
			return err
		}

		log.Info("Running bootstrap step", "position", i+1, "total", len(steps))
		if err := step.Execute(ctx, t); err != nil {
			return fmt.Errorf("bootstrap step %s failed on instance '%s': %w", step.Describe(), instanceID, err)
		}
	}
	return nil
}

// waitReady probes the shell with a trivial command until it produces
// output. An error or an empty response both count as "not ready".
func (p *Pipeline) waitReady(ctx context.Context, instanceID string, t remote.Transport) error {
	attempt := 0
	err := poll.Until(ctx, p.interval, p.attempts, func() (bool, error) {
		attempt++
		out, err := t.Exec(ctx, "echo ok")
		if err != nil || strings.TrimSpace(out) == "" {
			p.log.Debug("Remote shell not ready yet", "instance", instanceID, "attempt", attempt)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("instance '%s' shell never became ready after %d attempts: %w", instanceID, p.attempts, err)
	}
	return nil
}
