package org

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Persister writes the org snapshot and per-agent contact registries under
// runtimeDir. Writes are atomic (write-temp, rename).
type Persister struct {
	mu         sync.Mutex
	runtimeDir string
}

// orgDoc is the on-disk shape of <runtimeDir>/org.json.
type orgDoc struct {
	Roles        []*Role               `json:"roles"`
	Agents       []*Agent              `json:"agents"`
	Terminations []Termination         `json:"terminations"`
	Briefs       map[string]*TaskBrief `json:"briefs,omitempty"`
}

func NewPersister(runtimeDir string) (*Persister, error) {
	if err := os.MkdirAll(filepath.Join(runtimeDir, "contacts"), 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	return &Persister{runtimeDir: runtimeDir}, nil
}

func (p *Persister) orgPath() string { return filepath.Join(p.runtimeDir, "org.json") }

func (p *Persister) contactsPath(agentID string) string {
	return filepath.Join(p.runtimeDir, "contacts", agentID+".json")
}

// SaveOrg snapshots roles, agents, terminations and task briefs.
func (p *Persister) SaveOrg(r *Registry) error {
	r.mu.RLock()
	doc := orgDoc{
		Roles:        make([]*Role, 0, len(r.roles)),
		Agents:       make([]*Agent, 0, len(r.agents)),
		Terminations: append([]Termination(nil), r.terminated...),
		Briefs:       make(map[string]*TaskBrief, len(r.briefs)),
	}
	for _, role := range r.roles {
		doc.Roles = append(doc.Roles, role)
	}
	for _, a := range r.agents {
		doc.Agents = append(doc.Agents, a)
	}
	for id, b := range r.briefs {
		doc.Briefs[id] = b
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return p.writeAtomic(p.orgPath(), data)
}

// SaveContacts snapshots one agent's contact registry.
func (p *Persister) SaveContacts(agentID string, contacts []Contact) error {
	data, err := json.MarshalIndent(contacts, "", "  ")
	if err != nil {
		return err
	}
	return p.writeAtomic(p.contactsPath(agentID), data)
}

// Load restores the registry from disk. Malformed entries are skipped with a
// logged error; agents whose role no longer resolves are marked terminated.
func (p *Persister) Load(r *Registry) error {
	data, err := os.ReadFile(p.orgPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read org.json: %w", err)
	}

	var doc orgDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse org.json: %w", err)
	}

	r.mu.Lock()
	for _, role := range doc.Roles {
		if role == nil || role.ID == "" || role.Name == "" {
			slog.Error("org load: skipping malformed role entry")
			continue
		}
		r.roles[role.ID] = role
		r.rolesByName[role.Name] = role
	}
	for _, a := range doc.Agents {
		if a == nil || a.ID == "" {
			slog.Error("org load: skipping malformed agent entry")
			continue
		}
		if _, ok := r.roles[a.RoleID]; !ok {
			slog.Warn("org load: agent role no longer resolves, marking terminated", "agent", a.ID, "role", a.RoleID)
			a.Status = "terminated"
		}
		r.agents[a.ID] = a
		if a.Status == "active" {
			r.statuses[a.ID] = StatusIdle
		} else {
			r.statuses[a.ID] = StatusTerminated
		}
	}
	r.terminated = doc.Terminations
	for id, b := range doc.Briefs {
		if b != nil {
			r.briefs[id] = b
		}
	}
	r.mu.Unlock()

	// Root must exist even on a fresh or partially corrupted snapshot.
	r.seedRoot()
	p.loadContacts(r)
	return nil
}

func (r *Registry) seedRoot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seedRootLocked()
}

func (p *Persister) loadContacts(r *Registry) {
	dir := filepath.Join(p.runtimeDir, "contacts")
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		agentID := f.Name()[:len(f.Name())-len(".json")]
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var contacts []Contact
		if err := json.Unmarshal(data, &contacts); err != nil {
			slog.Error("org load: skipping malformed contacts file", "file", f.Name())
			continue
		}
		r.mu.Lock()
		if _, ok := r.contacts[agentID]; !ok || len(contacts) > len(r.contacts[agentID]) {
			r.contacts[agentID] = contacts
		}
		r.mu.Unlock()
	}
}

func (p *Persister) writeAtomic(path string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".org-*.tmp")
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
