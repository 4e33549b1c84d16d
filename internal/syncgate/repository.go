package syncgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// RepositorySyncer pulls a git working copy in-process with go-git, without
// needing a git binary in the image.
type RepositorySyncer struct {
	path   string
	remote string
}

func NewRepositorySyncer(path, remote string) *RepositorySyncer {
	return &RepositorySyncer{
		path:   path,
		remote: remote,
	}
}

func (s *RepositorySyncer) Sync(ctx context.Context) Result {
	repo, err := git.PlainOpen(s.path)
	if err != nil {
		return Failed(fmt.Errorf("failed to open repository %s: %w", s.path, err))
	}

	before, err := repo.Head()
	if err != nil {
		return Failed(fmt.Errorf("failed to get HEAD reference: %w", err))
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return Failed(fmt.Errorf("failed to get worktree: %w", err))
	}

	err = workTree.PullContext(ctx, &git.PullOptions{RemoteName: s.remote})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return NoChange()
	}
	if err != nil {
		return Failed(fmt.Errorf("failed to pull from %s: %w", s.remote, err))
	}

	after, err := repo.Head()
	if err != nil {
		return Failed(fmt.Errorf("failed to get HEAD reference: %w", err))
	}

	if after.Hash() == before.Hash() {
		return NoChange()
	}

	return Changed(fmt.Sprintf("Updated %s..%s", shortHash(before.Hash().String()), shortHash(after.Hash().String())))
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
