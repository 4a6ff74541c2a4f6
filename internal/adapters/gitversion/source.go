// Package gitversion reads the installed version from the tags of a local
// git checkout, for installations that run from source.
package gitversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// Source implements ports.VersionSource over a git working tree.
type Source struct {
	path string
}

// NewSource creates a source for the checkout at path or any parent of it.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// LocalVersion returns the highest version tag on the nearest tagged commit
// reachable from HEAD, or "" when the checkout has none.
func (s *Source) LocalVersion(ctx context.Context) (string, error) {
	repo, err := git.PlainOpenWithOptions(s.path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open git repository at %s: %w", s.path, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil // no commits yet
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	tagged, err := versionTags(repo)
	if err != nil {
		return "", err
	}
	if len(tagged) == 0 {
		return "", nil
	}

	commits, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return "", fmt.Errorf("failed to walk history: %w", err)
	}
	defer commits.Close()

	var found string
	err = commits.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if names, ok := tagged[c.Hash]; ok {
			found = highest(names)
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Debugf("Nearest version tag from HEAD %s: %q", head.Hash().String()[:7], found)
	return found, nil
}

// versionTags maps commit hashes to the version tags pointing at them.
// Annotated tags are peeled to their commit.
func versionTags(repo *git.Repository) (map[plumbing.Hash][]string, error) {
	refs, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer refs.Close()

	out := map[plumbing.Hash][]string{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if !domain.IsVersionTag(name) {
			return nil
		}
		hash := ref.Hash()
		if tag, err := repo.TagObject(hash); err == nil {
			commit, err := tag.Commit()
			if err != nil {
				return nil // tag of a tree or blob
			}
			hash = commit.Hash
		}
		out[hash] = append(out[hash], name)
		return nil
	})
	return out, err
}

func highest(names []string) string {
	best := names[0]
	for _, n := range names[1:] {
		if domain.CompareVersions(n, best) > 0 {
			best = n
		}
	}
	return best
}
