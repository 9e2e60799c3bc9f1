// Package filechange is the minimal file-change history module the core
// forwards into: it watches the workspace with fsnotify and records which
// agent/session was active when each change landed, so overlapping runs
// can be flagged.
package filechange

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeRecord is one observed filesystem change attributed to the run
// that was active at the time.
type ChangeRecord struct {
	Path      string
	Op        string
	AgentID   string
	SessionID string
	Time      time.Time
}

// Tracker watches a directory tree and attributes changes to the currently
// forwarded agent/session. It satisfies the core's narrow contract: the
// loop only hands it an agent id and session id.
type Tracker struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu             sync.Mutex
	activeAgent    string
	activeSession  string
	records        []ChangeRecord
	lastAgentByKey map[string]string
}

// NewTracker starts watching root and its subdirectories.
func NewTracker(root string, logger *slog.Logger) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		watcher:        watcher,
		logger:         logger,
		lastAgentByKey: make(map[string]string),
	}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}
	go t.run()
	return t, nil
}

// Forward implements the agent.FileChangeForwarder contract: subsequent
// changes are attributed to this agent and session.
func (t *Tracker) Forward(_ context.Context, agentID, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeAgent = agentID
	t.activeSession = sessionID
	return nil
}

func (t *Tracker) run() {
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.record(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (t *Tracker) record(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := ChangeRecord{
		Path:      event.Name,
		Op:        event.Op.String(),
		AgentID:   t.activeAgent,
		SessionID: t.activeSession,
		Time:      time.Now(),
	}
	t.records = append(t.records, rec)

	// Conflict signal: two different agents touching the same path.
	if prev, ok := t.lastAgentByKey[event.Name]; ok && prev != "" && t.activeAgent != "" && prev != t.activeAgent {
		t.logger.Warn("file touched by two agents",
			"path", event.Name, "previous_agent", prev, "current_agent", t.activeAgent)
	}
	t.lastAgentByKey[event.Name] = t.activeAgent

	// Newly created directories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := t.watcher.Add(event.Name); err != nil {
				t.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}
}

// Records returns a copy of the observed changes.
func (t *Tracker) Records() []ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ChangeRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Close stops the watcher.
func (t *Tracker) Close() error { return t.watcher.Close() }
