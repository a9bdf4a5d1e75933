// Package publish pushes the generated library to a git remote.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	transporthttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/services"
)

const remoteName = "origin"

// Publisher commits library changes and pushes them upstream. A clean
// worktree is a successful no-op.
type Publisher struct {
	cfg        config.Publish
	libraryDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewPublisher constructs a publisher for the library directory.
func NewPublisher(cfg config.Publish, libraryDir string, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:        cfg,
		libraryDir: libraryDir,
		logger:     logging.NewComponentLogger(logger, "publish"),
		now:        time.Now,
	}
}

// Publish stages everything under the library, commits with the given
// message, and pushes to the configured remote. Returns nil when there is
// nothing to commit or the remote is already up to date.
func (p *Publisher) Publish(ctx context.Context, message string) error {
	repo, err := p.openOrInit()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("publish: worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("publish: stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("publish: status: %w", err)
	}
	if status.IsClean() {
		p.logger.Info("library unchanged, nothing to publish")
		return p.push(ctx, repo)
	}

	if strings.TrimSpace(message) == "" {
		message = "Update library"
	}
	commit, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.authorName(),
			Email: p.authorEmail(),
			When:  p.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("publish: commit: %w", err)
	}
	p.logger.Info("library committed",
		logging.String("commit", commit.String()),
		logging.Int("changed_files", len(status)))

	return p.push(ctx, repo)
}

func (p *Publisher) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.libraryDir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("publish: open repository: %w", err)
	}
	repo, err = git.PlainInitWithOptions(p.libraryDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(p.branch()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("publish: init repository: %w", err)
	}
	return repo, nil
}

func (p *Publisher) push(ctx context.Context, repo *git.Repository) error {
	remoteURL := strings.TrimSpace(p.cfg.RemoteURL)
	if remoteURL == "" {
		return nil
	}
	if err := p.ensureRemote(repo, remoteURL); err != nil {
		return err
	}

	branch := p.branch()
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	opts := &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}
	if token := strings.TrimSpace(p.cfg.Token); token != "" {
		opts.Auth = &transporthttp.BasicAuth{Username: "token", Password: token}
	}

	err := repo.PushContext(ctx, opts)
	switch {
	case err == nil:
		p.logger.Info("library pushed", logging.String("branch", branch))
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		p.logger.Info("remote already up to date")
		return nil
	default:
		return services.Wrap(services.ErrTransient, "publish", "push", "push failed", err)
	}
}

func (p *Publisher) ensureRemote(repo *git.Repository, remoteURL string) error {
	remote, err := repo.Remote(remoteName)
	if err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 && urls[0] == remoteURL {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return fmt.Errorf("publish: replace remote: %w", err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("publish: lookup remote: %w", err)
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})
	if err != nil {
		return fmt.Errorf("publish: create remote: %w", err)
	}
	return nil
}

func (p *Publisher) branch() string {
	if b := strings.TrimSpace(p.cfg.Branch); b != "" {
		return b
	}
	return "main"
}

func (p *Publisher) authorName() string {
	if n := strings.TrimSpace(p.cfg.AuthorName); n != "" {
		return n
	}
	return "magpie"
}

func (p *Publisher) authorEmail() string {
	if e := strings.TrimSpace(p.cfg.AuthorEmail); e != "" {
		return e
	}
	return "magpie@localhost"
}
