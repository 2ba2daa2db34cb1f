// Package gitmirror maintains a bare, treeless local mirror of the tracked
// repository and answers ancestry queries against its branches.
package gitmirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

const loggerName = "git_mirror"

// Mirror is a local bare clone of a remote repository.
// The user and system git configuration are ignored for all git commands.
type Mirror struct {
	dir         string
	remoteURL   string
	commitGraph bool
	gitBin      string
	logger      *zap.Logger
}

type option func(*Mirror)

// WithCommitGraph enables writing a commit-graph after every refresh, it
// speeds up ancestry queries on large repositories.
func WithCommitGraph(enabled bool) option {
	return func(m *Mirror) {
		m.commitGraph = enabled
	}
}

// WithGitBinary sets the path of the git executable. An empty path keeps
// the default, git is looked up in $PATH.
func WithGitBinary(path string) option {
	return func(m *Mirror) {
		if path != "" {
			m.gitBin = path
		}
	}
}

// New returns a Mirror of remoteURL in dir. The directory is created by
// the first Refresh.
func New(dir, remoteURL string, opts ...option) *Mirror {
	m := Mirror{
		dir:       dir,
		remoteURL: remoteURL,
		gitBin:    "git",
		logger: zap.L().Named(loggerName).With(
			logfields.LocalRepository(dir),
		),
	}

	for _, opt := range opts {
		opt(&m)
	}

	return &m
}

func (m *Mirror) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, m.gitBin, args...)
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
		"GIT_TERMINAL_PROMPT=0",
	)

	return cmd
}

func (m *Mirror) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := m.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (m *Mirror) exists() (bool, error) {
	_, err := os.Stat(m.dir)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// Refresh brings the mirror up to date with the remote.
// If the mirror directory does not exist, the remote is cloned, otherwise
// all branches are fetched. Branches that were deleted or force-pushed at
// the remote are updated accordingly.
func (m *Mirror) Refresh(ctx context.Context) error {
	startTime := time.Now()

	exists, err := m.exists()
	if err != nil {
		return trackerr.NewGitAncestryError("", err)
	}

	op := "fetch"
	if exists {
		_, err = m.run(ctx,
			"-C", m.dir,
			"fetch", "--force", "--prune", "--quiet",
			"origin", "refs/heads/*:refs/heads/*",
		)
	} else {
		op = "clone"
		_, err = m.run(ctx,
			"clone", "--bare", "--filter=tree:0", "--quiet",
			m.remoteURL, m.dir,
		)
	}
	if err != nil {
		m.logger.Error(
			"refreshing git mirror failed",
			logfields.Event("git_mirror_refresh_failed"),
			zap.String("operation", op),
			zap.Error(err),
		)

		return trackerr.NewGitAncestryError("", err)
	}

	if m.commitGraph {
		if _, err := m.run(ctx, "-C", m.dir, "commit-graph", "write", "--reachable"); err != nil {
			return trackerr.NewGitAncestryError("", err)
		}
	}

	m.logger.Info(
		"git mirror refreshed",
		logfields.Event("git_mirror_refreshed"),
		zap.String("operation", op),
		zap.Duration("duration", time.Since(startTime)),
	)

	return nil
}

// Contains returns the branches of refs whose tip has commit as ancestor.
// Branches in refs that do not exist in the mirror are not returned.
func (m *Mirror) Contains(ctx context.Context, commit string, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	args := append([]string{
		"-C", m.dir,
		"branch", "--contains", commit,
		"--format=%(refname:short)",
		"--list",
	}, refs...)

	out, err := m.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var result []string
	for _, line := range strings.Split(out, "\n") {
		branch := strings.TrimSpace(line)
		if branch == "" {
			continue
		}

		result = append(result, branch)
	}

	return result, nil
}
