package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/davarch/buildlight/internal/domain"
)

// Entry is the cached view of one project.
type Entry struct {
	Name           string `json:"name"`
	ProjectID      string `json:"project_id"`
	Ref            string `json:"ref"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Error          bool   `json:"error"`
	Pipeline       int64  `json:"pipeline_id,omitempty"`
	SHA            string `json:"sha,omitempty"`
	Author         string `json:"author,omitempty"`
	URL            string `json:"url,omitempty"`
	Retrieved      int64  `json:"retrieved"`
}

// File is the on-disk document; Class summarises every project for status bars.
type File struct {
	Class    string  `json:"class"`
	Text     string  `json:"text"`
	Updated  int64   `json:"updated"`
	Projects []Entry `json:"projects"`
}

// FSCache keeps the latest snapshot per project and rewrites the whole
// file on every write.
type FSCache struct {
	path string

	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

func New(path string) *FSCache {
	return &FSCache{path: path, entries: make(map[string]Entry)}
}

func (c *FSCache) Write(_ context.Context, s domain.Snapshot) error {
	if c.path == "" {
		return errors.New("cache path is empty")
	}

	key := s.Project.Key()
	e := Entry{
		Name:           s.Project.Label(),
		ProjectID:      s.Project.Ref.ProjectID,
		Ref:            s.Project.Ref.Ref,
		Status:         s.State.Current,
		PreviousStatus: s.State.Previous,
		Error:          s.State.InError,
		Pipeline:       s.Build.ID,
		SHA:            s.Build.ShortSHA(),
		Author:         s.Build.AuthorName,
		URL:            s.Build.WebURL,
		Retrieved:      s.Retrieved,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = e

	return c.flush(c.document())
}

// Forget removes a project's entry and rewrites the file without it.
func (c *FSCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return nil
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.path == "" {
		return nil
	}
	return c.flush(c.document())
}

// document builds the file contents; c.mu must be held.
func (c *FSCache) document() File {
	doc := File{Updated: time.Now().Unix()}
	for _, k := range c.order {
		doc.Projects = append(doc.Projects, c.entries[k])
	}
	doc.Class, doc.Text = summarize(doc.Projects)
	return doc
}

func (c *FSCache) flush(doc File) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, c.path)
}

// summarize returns the worst class across projects and a short text.
func summarize(es []Entry) (class, text string) {
	class = "success"
	failing := 0
	for _, e := range es {
		switch {
		case e.Error || domain.Classify(e.Status) == domain.StatusFailed:
			class = "failed"
			failing++
		case domain.Classify(e.Status) == domain.StatusPending && class != "failed":
			class = "pending"
		}
	}
	if failing > 0 {
		return class, "CI ✗ " + strconv.Itoa(failing)
	}
	if class == "pending" {
		return class, "CI …"
	}
	return class, "CI ✓"
}

// Read loads a cache file written by FSCache.
func Read(path string) (File, error) {
	var doc File
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(b, &doc)
	return doc, err
}
