package convo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDebounce is the flush delay after a conversation mutation.
const DefaultDebounce = 500 * time.Millisecond

// Persister writes conversations under <runtimeDir>/conversations/ with a
// debounced flush: repeated mutations within the window coalesce into one
// write. Writes are atomic (write-temp, rename) with a per-file mutex.
type Persister struct {
	mgr      *Manager
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	writeMu sync.Map // agentID -> *sync.Mutex
}

func NewPersister(mgr *Manager, runtimeDir string, debounce time.Duration) (*Persister, error) {
	dir := filepath.Join(runtimeDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	p := &Persister{
		mgr:      mgr,
		dir:      dir,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
	mgr.SetPersister(p)
	return p, nil
}

func (p *Persister) path(agentID string) string {
	return filepath.Join(p.dir, agentID+".json")
}

// MarkDirty schedules a flush debounce-ms in the future, resetting any
// pending timer for the same agent.
func (p *Persister) MarkDirty(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[agentID]; ok {
		t.Reset(p.debounce)
		return
	}
	p.timers[agentID] = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		delete(p.timers, agentID)
		p.mu.Unlock()
		if err := p.PersistNow(agentID); err != nil {
			slog.Error("conversation flush failed", "agent", agentID, "error", err)
		}
	})
}

// PersistNow writes the conversation immediately. Persistence errors are
// logged by callers and never surface into agent-visible state.
func (p *Persister) PersistNow(agentID string) error {
	p.mgr.mu.RLock()
	c, ok := p.mgr.convos[agentID]
	if !ok {
		p.mgr.mu.RUnlock()
		return nil
	}
	snapshot := conversation{
		AgentID: c.AgentID,
		Usage:   c.Usage,
		Updated: c.Updated,
	}
	snapshot.Messages = make([]Entry, len(c.Messages))
	copy(snapshot.Messages, c.Messages)
	p.mgr.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	lock := p.fileLock(agentID)
	lock.Lock()
	defer lock.Unlock()
	return writeAtomic(p.dir, p.path(agentID), data)
}

// FlushAll drains every pending debounce timer and writes everything.
// Awaited on shutdown. Writes fan out across conversations; the per-file
// mutex keeps each file serialized.
func (p *Persister) FlushAll() {
	p.mu.Lock()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()

	p.mgr.mu.RLock()
	ids := make([]string, 0, len(p.mgr.convos))
	for id := range p.mgr.convos {
		ids = append(ids, id)
	}
	p.mgr.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if err := p.PersistNow(id); err != nil {
				slog.Error("conversation flush failed", "agent", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Remove deletes the on-disk conversation (termination path).
func (p *Persister) Remove(agentID string) {
	p.mu.Lock()
	if t, ok := p.timers[agentID]; ok {
		t.Stop()
		delete(p.timers, agentID)
	}
	p.mu.Unlock()
	if err := os.Remove(p.path(agentID)); err != nil && !os.IsNotExist(err) {
		slog.Error("conversation remove failed", "agent", agentID, "error", err)
	}
}

// LoadAll restores conversations from disk, skipping malformed files, and
// repairs orphan tool responses.
func (p *Persister) LoadAll() {
	files, err := os.ReadDir(p.dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, f.Name()))
		if err != nil {
			continue
		}
		var c conversation
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Error("skipping malformed conversation file", "file", f.Name(), "error", err)
			continue
		}
		if c.AgentID == "" {
			continue
		}
		p.mgr.mu.Lock()
		p.mgr.convos[c.AgentID] = &c
		p.mgr.mu.Unlock()
		p.mgr.RepairOrphans(c.AgentID)
	}
}

func (p *Persister) fileLock(agentID string) *sync.Mutex {
	v, _ := p.writeMu.LoadOrStore(agentID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".convo-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
