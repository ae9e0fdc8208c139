package season

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed seasons/*.yaml
var bundled embed.FS

// Registry holds every known season, newest first.
type Registry struct {
	seasons []*Season
	bySlug  map[string]*Season
}

// Load compiles the seasons bundled with the binary.
func Load() (*Registry, error) {
	return LoadFS(bundled, "seasons")
}

// LoadFS compiles every *.yaml file in dir.
func LoadFS(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading seasons: %w", err)
	}

	var seasons []*Season
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		s, err := Parse(data)
		if err != nil {
			return nil, err
		}
		seasons = append(seasons, s)
	}
	return NewRegistry(seasons...)
}

func NewRegistry(seasons ...*Season) (*Registry, error) {
	if len(seasons) == 0 {
		return nil, fmt.Errorf("no seasons defined")
	}
	r := &Registry{bySlug: make(map[string]*Season, len(seasons))}
	for _, s := range seasons {
		if _, dup := r.bySlug[s.slug]; dup {
			return nil, fmt.Errorf("duplicate season %q", s.slug)
		}
		r.bySlug[s.slug] = s
		r.seasons = append(r.seasons, s)
	}
	sort.SliceStable(r.seasons, func(i, j int) bool { return r.seasons[i].year > r.seasons[j].year })
	return r, nil
}

// Get looks up a season by slug, case-insensitively.
func (r *Registry) Get(slug string) (*Season, bool) {
	s, ok := r.bySlug[strings.ToLower(strings.TrimSpace(slug))]
	return s, ok
}

// SetLogger routes rule evaluation failures of every season to l.
func (r *Registry) SetLogger(l *slog.Logger) {
	for _, s := range r.seasons {
		s.SetLogger(l)
	}
}

// Current returns the newest season.
func (r *Registry) Current() *Season { return r.seasons[0] }

func (r *Registry) List() []*Season {
	out := make([]*Season, len(r.seasons))
	copy(out, r.seasons)
	return out
}

// Engine is Get typed as an Engine, for callers that only score.
func (r *Registry) Engine(slug string) (Engine, bool) {
	s, ok := r.Get(slug)
	if !ok {
		return nil, false
	}
	return s, true
}
