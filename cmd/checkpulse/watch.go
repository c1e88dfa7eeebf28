package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/application"
	"github.com/ericfisherdev/checkpulse/internal/config"
	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// errInterrupted is returned when watch is stopped before polling settles.
var errInterrupted = errors.New("interrupted before checks settled")

func watch(parent context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, repoFullName, ref string) error {
	if !cfg.HasGitHubCredentials() {
		return errors.New("watch needs a github token (CHECKPULSE_GITHUB_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, cache, err := openStatusCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	api, err := newChecksAPI(cfg, logger)
	if err != nil {
		return err
	}

	m := application.NewChecksMonitor(api, cache, repoFullName, ref, monitorConfig(cfg),
		application.WithLogger(logger),
	)
	defer m.Close()

	return followMonitor(ctx, out, m)
}

// followMonitor starts m and prints every status change until polling stops
// on its own or ctx ends.
func followMonitor(ctx context.Context, out io.Writer, m *application.ChecksMonitor) error {
	statusCh := m.Status().Subscribe()
	defer m.Status().Unsubscribe(statusCh)
	errCh := m.Err().Subscribe()
	defer m.Err().Unsubscribe(errCh)

	// Drop the initial values; nothing is known before Start.
	<-statusCh
	<-errCh

	m.StartAsync(ctx)

	for {
		select {
		case <-ctx.Done():
			return errInterrupted
		case obs, ok := <-statusCh:
			if !ok {
				return errInterrupted
			}
			fmt.Fprintln(out, formatObserved(obs, time.Now()))
			// State is committed under the same lock that published obs.
			if m.State().Terminal() {
				if last := m.Status().Get(); last != obs {
					fmt.Fprintln(out, formatObserved(last, time.Now()))
				}
				return nil
			}
		case err, ok := <-errCh:
			if !ok {
				return errInterrupted
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// formatObserved renders one status line.
func formatObserved(obs model.ObservedStatus, now time.Time) string {
	if !obs.Resolved {
		return "unknown"
	}
	s := obs.Status
	if s == nil {
		return "no checks"
	}

	var b strings.Builder
	b.WriteString(string(s.CIStatus()))
	if age, ok := s.Age(now); ok {
		fmt.Fprintf(&b, " (started %s ago)", age.Truncate(time.Second))
	}
	if len(s.FailedChecks) > 0 {
		fmt.Fprintf(&b, " failed: %s", strings.Join(s.FailedChecks, ", "))
	}
	if obs.FromCache {
		b.WriteString(" [cached]")
	}
	return b.String()
}
