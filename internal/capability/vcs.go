package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes a single external command and returns its combined
// output. The indirection exists so tests can record calls without a real
// checkout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner runs real commands in a working directory.
type execRunner struct {
	workDir string
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// GitVersionControl implements VersionControl against a git checkout.
type GitVersionControl struct {
	runner CommandRunner
}

// NewGitVersionControl creates a VersionControl bound to the checkout at
// workDir (empty = current directory).
func NewGitVersionControl(workDir string) *GitVersionControl {
	return &GitVersionControl{runner: &execRunner{workDir: workDir}}
}

// NewGitVersionControlWithRunner injects a custom command runner. Useful for
// testing.
func NewGitVersionControlWithRunner(runner CommandRunner) *GitVersionControl {
	return &GitVersionControl{runner: runner}
}

// CreateBranch creates the branch and switches the checkout to it.
func (g *GitVersionControl) CreateBranch(ctx context.Context, name string) error {
	if _, err := g.runner.Run(ctx, "git", "checkout", "-b", name); err != nil {
		return NewError("version-control", "create branch "+name, err)
	}
	return nil
}

// Commit stages everything and commits, returning the new commit hash.
func (g *GitVersionControl) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.runner.Run(ctx, "git", "add", "-A"); err != nil {
		return "", NewError("version-control", "stage changes", err)
	}
	if _, err := g.runner.Run(ctx, "git", "commit", "-m", message, "--allow-empty"); err != nil {
		return "", NewError("version-control", "commit", err)
	}
	hash, err := g.runner.Run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", NewError("version-control", "resolve HEAD", err)
	}
	return strings.TrimSpace(hash), nil
}

// OpenChangeRequest opens a change request for the branch via the hosting
// CLI and returns its URL.
func (g *GitVersionControl) OpenChangeRequest(ctx context.Context, branch, title string) (string, error) {
	out, err := g.runner.Run(ctx, "gh", "pr", "create", "--head", branch, "--title", title, "--fill")
	if err != nil {
		return "", NewError("version-control", "open change request", err)
	}
	return strings.TrimSpace(out), nil
}

// Merge fast-forwards the default branch onto the given branch.
func (g *GitVersionControl) Merge(ctx context.Context, branch string) error {
	if _, err := g.runner.Run(ctx, "git", "checkout", "main"); err != nil {
		return NewError("version-control", "checkout main", err)
	}
	if _, err := g.runner.Run(ctx, "git", "merge", "--no-ff", branch); err != nil {
		return NewError("version-control", "merge "+branch, err)
	}
	return nil
}

// Revert reverts a single commit on the current branch.
func (g *GitVersionControl) Revert(ctx context.Context, commit string) error {
	if _, err := g.runner.Run(ctx, "git", "revert", "--no-edit", commit); err != nil {
		return NewError("version-control", "revert "+commit, err)
	}
	return nil
}

// Tag creates a lightweight tag at HEAD.
func (g *GitVersionControl) Tag(ctx context.Context, name string) error {
	if _, err := g.runner.Run(ctx, "git", "tag", name); err != nil {
		return NewError("version-control", "tag "+name, err)
	}
	return nil
}

// ListChangedFiles lists files the branch changed relative to main.
func (g *GitVersionControl) ListChangedFiles(ctx context.Context, branch string) ([]string, error) {
	out, err := g.runner.Run(ctx, "git", "diff", "--name-only", "main..."+branch)
	if err != nil {
		return nil, NewError("version-control", "list changed files", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}
