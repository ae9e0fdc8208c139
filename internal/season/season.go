// Package season loads season scoring definitions and evaluates them.
//
// A season is a YAML document listing missions in canonical order. Each
// mission owns one or more options (bool or bounded int) and a score
// expression; warnings are boolean expressions over the same options.
// Expressions use expr-lang/expr and are compiled once at load time.
package season

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/fllgameday/refcalc/internal/codec"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// Engine is the scoring contract the tabulation workflow relies on.
type Engine interface {
	Slug() string
	Name() string
	Fields() []codec.Field
	InitialMissionsState() tabulation.MissionState
	ComputeMissions(tabulation.MissionState) Result
}

type Result struct {
	Score    int      `json:"score"`
	Warnings []string `json:"warnings"`
}

type optionDef struct {
	Key     string `yaml:"key"`
	Label   string `yaml:"label"`
	Type    string `yaml:"type"`
	Max     int    `yaml:"max"`
	Default any    `yaml:"default"`
}

type missionDef struct {
	ID      string      `yaml:"id"`
	Title   string      `yaml:"title"`
	Options []optionDef `yaml:"options"`
	Score   string      `yaml:"score"`
}

type warningDef struct {
	Code string `yaml:"code"`
	When string `yaml:"when"`
}

type definition struct {
	Slug     string       `yaml:"slug"`
	Name     string       `yaml:"name"`
	Year     int          `yaml:"year"`
	Missions []missionDef `yaml:"missions"`
	Warnings []warningDef `yaml:"warnings"`
}

// Mission is the display view of one mission and its options.
type Mission struct {
	ID      string
	Title   string
	Options []Option
}

type Option struct {
	Key   string
	Label string
	Field codec.Field
}

type compiledScore struct {
	mission string
	program *vm.Program
}

type compiledWarning struct {
	code    string
	program *vm.Program
}

// Season is a compiled season definition. It is safe for concurrent use.
type Season struct {
	slug     string
	name     string
	year     int
	missions []Mission
	fields   []codec.Field
	initial  tabulation.MissionState
	scores   []compiledScore
	warnings []compiledWarning
	logger   *slog.Logger
}

// Parse compiles a YAML season definition.
func Parse(data []byte) (*Season, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing season: %w", err)
	}
	if def.Slug == "" {
		return nil, errors.New("parsing season: slug is required")
	}

	s := &Season{
		slug:    def.Slug,
		name:    def.Name,
		year:    def.Year,
		initial: tabulation.MissionState{},
		logger:  slog.Default(),
	}

	for _, m := range def.Missions {
		mission := Mission{ID: m.ID, Title: m.Title}
		for _, o := range m.Options {
			field, value, err := compileOption(o)
			if err != nil {
				return nil, fmt.Errorf("season %s mission %s: %w", def.Slug, m.ID, err)
			}
			if _, dup := s.initial[o.Key]; dup {
				return nil, fmt.Errorf("season %s: duplicate option %q", def.Slug, o.Key)
			}
			s.initial[o.Key] = value
			s.fields = append(s.fields, field)
			mission.Options = append(mission.Options, Option{Key: o.Key, Label: o.Label, Field: field})
		}
		s.missions = append(s.missions, mission)
	}

	env := map[string]any(s.initial)
	for _, m := range def.Missions {
		if m.Score == "" {
			continue
		}
		p, err := expr.Compile(m.Score, expr.Env(env), expr.AsInt())
		if err != nil {
			return nil, fmt.Errorf("season %s mission %s score: %w", def.Slug, m.ID, err)
		}
		s.scores = append(s.scores, compiledScore{mission: m.ID, program: p})
	}
	for _, w := range def.Warnings {
		p, err := expr.Compile(w.When, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("season %s warning %s: %w", def.Slug, w.Code, err)
		}
		s.warnings = append(s.warnings, compiledWarning{code: w.Code, program: p})
	}
	return s, nil
}

func compileOption(o optionDef) (codec.Field, any, error) {
	if o.Key == "" {
		return codec.Field{}, nil, errors.New("option key is required")
	}
	switch o.Type {
	case "bool", "boolean":
		def, _ := o.Default.(bool)
		return codec.Field{Key: o.Key, Bool: true, Max: 1}, def, nil
	case "int", "number":
		if o.Max < 0 {
			return codec.Field{}, nil, fmt.Errorf("option %s: max must not be negative", o.Key)
		}
		def := 0
		if o.Default != nil {
			n, ok := o.Default.(int)
			if !ok || n < 0 || n > o.Max {
				return codec.Field{}, nil, fmt.Errorf("option %s: default %v outside 0..%d", o.Key, o.Default, o.Max)
			}
			def = n
		}
		return codec.Field{Key: o.Key, Max: o.Max}, def, nil
	}
	return codec.Field{}, nil, fmt.Errorf("option %s: unknown type %q", o.Key, o.Type)
}

func (s *Season) Slug() string { return s.slug }
func (s *Season) Name() string { return s.name }
func (s *Season) Year() int    { return s.year }

func (s *Season) Missions() []Mission { return s.missions }

// Fields returns the canonical key order with bounds.
func (s *Season) Fields() []codec.Field {
	out := make([]codec.Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up the option definition for key.
func (s *Season) Field(key string) (codec.Field, bool) {
	for _, f := range s.fields {
		if f.Key == key {
			return f, true
		}
	}
	return codec.Field{}, false
}

func (s *Season) InitialMissionsState() tabulation.MissionState {
	return s.initial.Clone()
}

// SetLogger sets where rule evaluation failures are reported. Call it before
// the season is shared.
func (s *Season) SetLogger(l *slog.Logger) { s.logger = l }

// ComputeMissions scores state. Missing options count as their defaults and
// unknown keys are ignored. A rule that fails at run time is logged and
// contributes nothing.
func (s *Season) ComputeMissions(state tabulation.MissionState) Result {
	env := map[string]any(tabulation.Reconcile(state, s.initial))

	var res Result
	for _, sc := range s.scores {
		out, err := expr.Run(sc.program, env)
		if err != nil {
			s.logger.Warn("evaluating mission score", "season", s.slug, "mission", sc.mission, "error", err)
			continue
		}
		if n, ok := out.(int); ok {
			res.Score += n
		}
	}
	for _, w := range s.warnings {
		out, err := expr.Run(w.program, env)
		if err != nil {
			s.logger.Warn("evaluating warning", "season", s.slug, "warning", w.code, "error", err)
			continue
		}
		if hit, _ := out.(bool); hit {
			res.Warnings = append(res.Warnings, w.code)
		}
	}
	return res
}
