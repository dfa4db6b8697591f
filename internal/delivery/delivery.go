// Package delivery uploads target documents to the downstream import
// location. Delivery is at-least-once: an existence check before every
// transfer suppresses duplicates.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/relay/internal/metrics"
)

// Session is one open connection to the delivery endpoint. Sessions are not
// shared between pipeline runs.
type Session interface {
	// Exists reports whether filename is already present at the remote path.
	Exists(ctx context.Context, filename string) (bool, error)
	// Upload writes content to filename and returns the full remote path.
	Upload(ctx context.Context, filename, content string) (string, error)
	// RemotePath returns the full remote path filename is stored at.
	RemotePath(filename string) string
	Close() error
}

// Backend opens sessions against one kind of endpoint.
type Backend interface {
	Connect(ctx context.Context) (Session, error)
	Name() string
}

// Result describes a delivery.
type Result struct {
	RemotePath string
	// Skipped is set when the file already existed and no transfer was made.
	Skipped bool
}

// Gateway performs idempotent deliveries through a Backend.
type Gateway struct {
	backend Backend
	logger  *slog.Logger
}

func NewGateway(backend Backend, logger *slog.Logger) *Gateway {
	return &Gateway{
		backend: backend,
		logger:  logger.With("component", "delivery", "backend", backend.Name()),
	}
}

// Deliver opens a session, skips the transfer if filename already exists
// remotely, otherwise uploads content, and closes the session.
func (g *Gateway) Deliver(ctx context.Context, filename, content string) (res Result, err error) {
	if filename == "" {
		return Result{}, errors.New("delivery: filename is required")
	}

	defer func() {
		switch {
		case err != nil:
			metrics.IncreaseDeliveries(g.backend.Name(), "failed")
		case res.Skipped:
			metrics.IncreaseDeliveries(g.backend.Name(), "skipped")
		default:
			metrics.IncreaseDeliveries(g.backend.Name(), "uploaded")
		}
	}()

	start := time.Now()
	session, err := g.backend.Connect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			g.logger.Warn("failed to close delivery session", "error", cerr)
		}
	}()

	exists, err := session.Exists(ctx, filename)
	if err != nil {
		return Result{}, fmt.Errorf("check %s: %w", filename, err)
	}
	if exists {
		remote := session.RemotePath(filename)
		g.logger.Info("file already delivered, skipping upload", "remotePath", remote)
		return Result{RemotePath: remote, Skipped: true}, nil
	}

	remote, err := session.Upload(ctx, filename, content)
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", filename, err)
	}

	g.logger.Info("file delivered",
		"remotePath", remote,
		"bytes", len(content),
		"duration", time.Since(start))
	return Result{RemotePath: remote}, nil
}
