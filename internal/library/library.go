// Package library loads script descriptors from the script library on disk
// and serves read-mostly lookups. Reload builds a fresh table and swaps it
// atomically, so readers never block and never see a half-built library.
package library

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cadforge/api/internal/model"
)

// Script code files recognized next to a descriptor config.
var codeExtensions = []string{".py", ".js", ".scad"}

const configName = "script.json"

type snapshot struct {
	scripts   []*model.ScriptDescriptor
	byVersion map[string]*model.ScriptDescriptor // org/name@version
	latest    map[string]*model.ScriptDescriptor // org/name
}

// Library is the process-wide script table.
type Library struct {
	path string
	snap atomic.Pointer[snapshot]
}

// New creates a library rooted at path. Path may be a directory laid out as
// <org>/<name>/<version>/script.json, or a single JSON file holding a list
// of descriptors (debug source).
func New(path string) *Library {
	l := &Library{path: path}
	l.snap.Store(&snapshot{
		byVersion: map[string]*model.ScriptDescriptor{},
		latest:    map[string]*model.ScriptDescriptor{},
	})
	return l
}

// Load scans the source and swaps in the new table. The previous table
// keeps serving reads until the swap.
func (l *Library) Load() error {
	var scripts []*model.ScriptDescriptor
	var err error

	if strings.HasSuffix(l.path, ".json") {
		scripts, err = loadFile(l.path)
	} else {
		scripts, err = loadDir(l.path)
	}
	if err != nil {
		return err
	}

	next := &snapshot{
		scripts:   scripts,
		byVersion: make(map[string]*model.ScriptDescriptor, len(scripts)),
		latest:    make(map[string]*model.ScriptDescriptor),
	}
	for _, s := range scripts {
		next.byVersion[s.FullID()] = s
		id := s.ID()
		if cur, ok := next.latest[id]; !ok || compareVersions(s.Version, cur.Version) > 0 {
			next.latest[id] = s
		}
	}

	l.snap.Store(next)
	log.Printf("Library loaded: %d script versions from %s", len(scripts), l.path)
	return nil
}

// Reload re-scans the source. Alias kept for the admin endpoint.
func (l *Library) Reload() error { return l.Load() }

// Lookup finds a script by org and name. Empty version means latest.
func (l *Library) Lookup(org, name, version string) (*model.ScriptDescriptor, error) {
	snap := l.snap.Load()

	if version == "" {
		if s, ok := snap.latest[org+"/"+name]; ok {
			return s, nil
		}
		return nil, model.ErrScriptNotFound
	}
	if s, ok := snap.byVersion[fmt.Sprintf("%s/%s@%s", org, name, version)]; ok {
		return s, nil
	}
	return nil, model.ErrScriptNotFound
}

// Versions lists the known versions of a script, newest first.
func (l *Library) Versions(org, name string) []string {
	snap := l.snap.Load()
	var versions []string
	prefix := org + "/" + name + "@"
	for key := range snap.byVersion {
		if strings.HasPrefix(key, prefix) {
			versions = append(versions, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
	return versions
}

// List returns every published script version.
func (l *Library) List() []*model.ScriptDescriptor {
	snap := l.snap.Load()
	out := make([]*model.ScriptDescriptor, 0, len(snap.scripts))
	for _, s := range snap.scripts {
		if s.Published {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullID() < out[j].FullID() })
	return out
}

// Search matches q case-insensitively against org, name and description.
func (l *Library) Search(q string) []*model.ScriptDescriptor {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return l.List()
	}
	var out []*model.ScriptDescriptor
	for _, s := range l.List() {
		if strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Org), q) ||
			strings.Contains(strings.ToLower(s.Description), q) {
			out = append(out, s)
		}
	}
	return out
}

// Count reports the number of loaded script versions.
func (l *Library) Count() int {
	return len(l.snap.Load().scripts)
}

// scriptConfig is the on-disk descriptor shape; identity comes from the
// directory layout, not the file.
type scriptConfig struct {
	Author        string                    `json:"author,omitempty"`
	Description   string                    `json:"description,omitempty"`
	Engine        model.Engine              `json:"engine"`
	License       model.ContentLicense      `json:"license,omitempty"`
	DefaultFormat model.ModelFormat         `json:"defaultFormat,omitempty"`
	Params        map[string]*model.ParamSpec `json:"params,omitempty"`
	Presets       map[string]map[string]any `json:"presets,omitempty"`
	Published     *bool                     `json:"published,omitempty"`
}

func loadDir(root string) ([]*model.ScriptDescriptor, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("library path %q is not a directory", root)
	}

	var scripts []*model.ScriptDescriptor
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != configName {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
		if len(parts) != 3 {
			log.Printf("Library: skipping %s: expected <org>/<name>/<version>/%s layout", rel, configName)
			return nil
		}

		script, err := loadScript(path, parts[0], parts[1], parts[2])
		if err != nil {
			log.Printf("Library: skipping %s: %v", rel, err)
			return nil
		}
		scripts = append(scripts, script)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scripts, nil
}

func loadScript(configPath, org, name, version string) (*model.ScriptDescriptor, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg scriptConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Engine == "" {
		return nil, fmt.Errorf("config missing engine")
	}

	script := &model.ScriptDescriptor{
		Org:           strings.ToLower(org),
		Name:          strings.ToLower(name),
		Version:       version,
		Author:        cfg.Author,
		Description:   cfg.Description,
		Engine:        cfg.Engine,
		License:       cfg.License,
		DefaultFormat: cfg.DefaultFormat,
		Params:        cfg.Params,
		Presets:       cfg.Presets,
		Published:     cfg.Published == nil || *cfg.Published,
	}
	if script.DefaultFormat == "" {
		script.DefaultFormat = model.FormatSTEP
	}

	// param keys double as names
	for pname, spec := range script.Params {
		if spec.Name == "" {
			spec.Name = pname
		}
	}

	dir := filepath.Dir(configPath)
	if code, mtime, ok := findCode(dir, script.Name); ok {
		script.Code = code
		script.UpdatedAt = mtime
		script.CreatedAt = mtime
	}

	return script, nil
}

func findCode(dir, name string) (string, time.Time, bool) {
	for _, ext := range codeExtensions {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mtime := time.Time{}
		if info, err := os.Stat(path); err == nil {
			mtime = info.ModTime()
		}
		return string(data), mtime, true
	}
	return "", time.Time{}, false
}

func loadFile(path string) ([]*model.ScriptDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scripts []*model.ScriptDescriptor
	if err := json.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("invalid library file %q: %w", path, err)
	}
	for _, s := range scripts {
		s.Org = strings.ToLower(s.Org)
		s.Name = strings.ToLower(s.Name)
		if s.DefaultFormat == "" {
			s.DefaultFormat = model.FormatSTEP
		}
		for pname, spec := range s.Params {
			if spec.Name == "" {
				spec.Name = pname
			}
		}
		s.Published = true
	}
	return scripts, nil
}

// compareVersions orders dotted version strings numerically where possible,
// falling back to string comparison for non-numeric segments.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
