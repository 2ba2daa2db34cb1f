// Package runlock ensures that only one run per tracker is executed at a
// time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/logfields"
)

const loggerName = "run_lock"

// ErrLocked is returned when the lock is held by another process and could
// not be acquired before the timeout expired.
var ErrLocked = errors.New("lock is held by another process")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Path returns the path of the lock file for a tracker in dir.
func Path(dir, owner, repo, label string) string {
	name := strings.Join([]string{owner, repo, label}, "_")
	return filepath.Join(dir, unsafeChars.ReplaceAllString(name, "-")+".lock")
}

// Lock is an acquired lock file.
type Lock struct {
	path   string
	logger *zap.Logger
}

// Acquire creates the lock file at path. If it already exists, creating
// it is retried with an exponential backoff until timeout expired or ctx
// is cancelled.
// Lock files of crashed runs are not removed automatically, they are
// reported in the log.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	logger := zap.L().Named(loggerName).With(zap.String("lock_file", path))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = timeout

	var tryCnt uint
	start := time.Now()

	err := backoff.RetryNotify(
		func() error {
			tryCnt++

			err := create(path)
			if err == nil {
				return nil
			}

			if errors.Is(err, os.ErrExist) {
				return ErrLocked
			}

			return backoff.Permanent(err)
		},
		backoff.WithContext(bo, ctx),
		func(err error, retryIn time.Duration) {
			fields := []zap.Field{
				logfields.Event("run_lock_busy"),
				zap.Uint("try_count", tryCnt),
				zap.Duration("retry_in", retryIn),
			}

			if owner, err := os.ReadFile(path); err == nil {
				fields = append(fields, zap.String("lock_owner", strings.TrimSpace(string(owner))))
			}

			if fi, err := os.Stat(path); err == nil {
				fields = append(fields, zap.Duration("lock_age", time.Since(fi.ModTime())))
			}

			logger.Info("lock is held by another process, waiting", fields...)
		},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(err, ErrLocked) {
			waited := time.Since(start)

			// the backoff also stops when the ctx deadline is
			// before the next retry, before ctx expired
			if _, hasDeadline := ctx.Deadline(); hasDeadline && waited < timeout {
				return nil, fmt.Errorf(
					"acquiring %s failed after %s, the next retry is after the deadline: %w",
					path, waited.Round(time.Millisecond), context.DeadlineExceeded,
				)
			}

			return nil, fmt.Errorf("acquiring %s failed after %s: %w", path, waited.Round(time.Millisecond), err)
		}

		return nil, fmt.Errorf("creating lock file %s failed: %w", path, err)
	}

	logger.Debug("lock acquired", logfields.Event("run_lock_acquired"))

	return &Lock{path: path, logger: logger}, nil
}

func create(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(f, "pid %d, since %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return err
	}

	return nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("removing lock file failed: %w", err)
	}

	l.logger.Debug("lock released", logfields.Event("run_lock_released"))

	return nil
}
