package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/types"
)

// Logger is the logging surface the follower needs. *logrus.Entry satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Waiter blocks until the log has probably caught up.
type Waiter interface {
	Wait(ctx context.Context, limit time.Duration) (bool, error)
}

// Follower finds the single restart that follows a kickoff instant in a live log.
// Each attempt reopens the log, so rotation between attempts is harmless.
type Follower struct {
	// Path is the live log file.
	Path string

	// Options are applied to every attempt. Window, Format and Strict are
	// overridden: the window opens at the kickoff and lines must carry syslog
	// timestamps.
	Options Options

	// RetryDelay bounds the wait between the first attempt and the retry.
	RetryDelay time.Duration

	// Waiter is consulted between attempts. Nil sleeps for RetryDelay.
	Waiter Waiter

	// Open opens the log. Nil uses os.Open.
	Open func(path string) (io.ReadCloser, error)

	Logger Logger
}

// NewFollower returns a follower for path that waits on file writes between attempts.
func NewFollower(path string, opts Options, retryDelay time.Duration) (*Follower, error) {
	w, err := NewLogWatcher(path, 0)
	if err != nil {
		return nil, err
	}
	return &Follower{
		Path:       path,
		Options:    opts,
		RetryDelay: retryDelay,
		Waiter:     w,
	}, nil
}

// Locate returns the first restart whose trigger is at or after kickoff.
// A miss is retried exactly once after waiting for the log to catch up.
// A line with a missing syslog timestamp fails immediately.
func (f *Follower) Locate(ctx context.Context, kickoff time.Time) (types.RestartRecord, error) {
	rec, err := f.attempt(kickoff)
	if err == nil {
		return rec, nil
	}
	if IsFatal(err) {
		return types.RestartRecord{}, err
	}

	f.warnf("Restart after %s not found yet (%v), retrying once", kickoff.Format(time.DateTime), err)
	if err := f.wait(ctx); err != nil {
		return types.RestartRecord{}, err
	}

	rec, err = f.attempt(kickoff)
	if err == nil {
		return rec, nil
	}
	if IsFatal(err) {
		return types.RestartRecord{}, err
	}
	return types.RestartRecord{}, fmt.Errorf("%w: %w", ErrLogLag, err)
}

func (f *Follower) attempt(kickoff time.Time) (types.RestartRecord, error) {
	open := f.Open
	if open == nil {
		open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	rc, err := open(f.Path)
	if err != nil {
		return types.RestartRecord{}, fmt.Errorf("failed to open log %s: %w", f.Path, err)
	}
	defer rc.Close()

	opts := f.Options
	opts.Window = types.ScanWindow{Begin: kickoff}
	opts.Format = logtime.FormatSyslog
	opts.Strict = true

	s := NewRestartScanner(rc, opts)
	if s.Scan() {
		rec := s.Record()
		f.debugf("Found %s restart %s - %s", rec.Kind, rec.Start.Format(time.DateTime), rec.End.Format(time.DateTime))
		return rec, nil
	}
	if err := s.Err(); err != nil {
		if errors.Is(err, ErrStartTimeNotFound) {
			return types.RestartRecord{}, fmt.Errorf("no log lines after %s: %w", kickoff.Format(time.DateTime), ErrRestartNotFound)
		}
		return types.RestartRecord{}, err
	}
	return types.RestartRecord{}, ErrRestartNotFound
}

func (f *Follower) wait(ctx context.Context) error {
	if f.Waiter != nil {
		changed, err := f.Waiter.Wait(ctx, f.RetryDelay)
		if err == nil {
			f.debugf("Log changed before retry: %v", changed)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.warnf("Log watch failed (%v), sleeping %v instead", err, f.RetryDelay)
	}

	timer := time.NewTimer(f.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Follower) debugf(format string, args ...interface{}) {
	if f.Logger != nil {
		f.Logger.Debugf(format, args...)
	}
}

func (f *Follower) warnf(format string, args ...interface{}) {
	if f.Logger != nil {
		f.Logger.Warnf(format, args...)
	}
}
