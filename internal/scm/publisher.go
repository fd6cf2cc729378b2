// Package scm versions the generated provisioning configuration in a git
// repository so every deployment attempt leaves an auditable trail and can be
// mirrored to a remote.
package scm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog"
)

const remoteName = "origin"

// Publisher commits the generated configuration directory and optionally
// pushes it to a configured remote
type Publisher struct {
	remoteURL string
	token     string
	logger    zerolog.Logger
}

// NewPublisher creates a configuration publisher. remoteURL may be empty, in
// which case Push is a no-op.
func NewPublisher(remoteURL, token string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		remoteURL: remoteURL,
		token:     token,
		logger:    logger.With().Str("component", "scm").Logger(),
	}
}

// CommitConfiguration stages everything under dir and commits it, initializing
// the repository on first use. Returns the commit hash. An unchanged tree is
// not an error; the previous head hash is returned.
func (p *Publisher) CommitConfiguration(ctx context.Context, dir, deployment string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage configuration: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return "", fmt.Errorf("read head of clean repository: %w", err)
		}
		return head.Hash().String(), nil
	}

	hash, err := wt.Commit(fmt.Sprintf("Update configuration for %s", deployment), &git.CommitOptions{
		Author: &object.Signature{
			Name:  "stackwizard",
			Email: "stackwizard@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit configuration: %w", err)
	}

	p.logger.Info().
		Str("deployment", deployment).
		Str("commit", hash.String()).
		Msg("Configuration committed")

	return hash.String(), nil
}

// Push mirrors the repository at dir to the configured remote. A no-op when
// no remote URL is configured.
func (p *Publisher) Push(ctx context.Context, dir string) error {
	if p.remoteURL == "" {
		return nil
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	if _, err := repo.Remote(remoteName); errors.Is(err, git.ErrRemoteNotFound) {
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{p.remoteURL},
		})
		if err != nil {
			return fmt.Errorf("create remote: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup remote: %w", err)
	}

	opts := &git.PushOptions{RemoteName: remoteName}
	if p.token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "stackwizard", Password: p.token}
	}

	if err := repo.PushContext(ctx, opts); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("push configuration: %w", err)
	}

	p.logger.Info().Str("remote", p.remoteURL).Msg("Configuration pushed")
	return nil
}
