package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// DiscoverWorkspace scans the working directory for sibling repos and
// renders the short map injected into the system prompt.
func DiscoverWorkspace(workingDir string) string {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return ""
	}
	var repos, dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isRepoRoot(filepath.Join(workingDir, e.Name())) {
			repos = append(repos, e.Name())
		} else {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(repos)
	sort.Strings(dirs)

	var b strings.Builder
	fmt.Fprintf(&b, "Working directory: %s\n", workingDir)
	if len(repos) > 0 {
		fmt.Fprintf(&b, "Repositories: %s\n", strings.Join(repos, ", "))
	}
	if len(dirs) > 0 {
		if len(dirs) > 15 {
			dirs = dirs[:15]
		}
		fmt.Fprintf(&b, "Directories: %s\n", strings.Join(dirs, ", "))
	}
	return b.String()
}

func isRepoRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json", "Cargo.toml", "pyproject.toml"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

const narrowPromptFmt = `A coding agent is starting this task:

%s

The working directory contains these subdirectories:
%s

If the task clearly concerns exactly one of them, answer with that directory name alone. Otherwise answer "none".`

// NarrowScope asks the LLM to pick a single subdirectory for the task, or
// "none". Applied at most once, before the system prompt is built and
// before the loop starts. Returns the (possibly unchanged) working dir.
func NarrowScope(ctx context.Context, provider Provider, workingDir, task string, logger *slog.Logger) string {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return workingDir
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) < 2 {
		return workingDir
	}

	content, _, err := provider.Complete(ctx, models.TierSmall,
		fmt.Sprintf(narrowPromptFmt, task, strings.Join(names, "\n")))
	if err != nil {
		logger.Warn("scope narrowing call failed", "error", err)
		return workingDir
	}
	choice := strings.TrimSpace(strings.Trim(content, "`\"' \n"))
	if choice == "" || strings.EqualFold(choice, "none") {
		return workingDir
	}
	candidate := filepath.Join(workingDir, choice)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		logger.Info("narrowed working directory", "from", workingDir, "to", candidate)
		return candidate
	}
	return workingDir
}
