package season_test

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

func loadSubmerged(t *testing.T) *season.Season {
	t.Helper()
	reg, err := season.Load()
	if err != nil {
		t.Fatalf("loading seasons: %v", err)
	}
	s, ok := reg.Get("submerged")
	if !ok {
		t.Fatal("submerged season missing")
	}
	return s
}

func TestRegistry(t *testing.T) {
	reg, err := season.Load()
	if err != nil {
		t.Fatalf("loading seasons: %v", err)
	}
	if got := reg.Current().Slug(); got != "submerged" {
		t.Errorf("current season = %q, want submerged", got)
	}
	if _, ok := reg.Get("Masterpiece"); !ok {
		t.Error("lookup should be case-insensitive")
	}
	if len(reg.List()) != 2 {
		t.Errorf("expected 2 seasons, got %d", len(reg.List()))
	}
}

func TestInitialState(t *testing.T) {
	s := loadSubmerged(t)
	initial := s.InitialMissionsState()

	if len(initial) != len(s.Fields()) {
		t.Fatalf("initial has %d keys, fields has %d", len(initial), len(s.Fields()))
	}
	if initial["precision_tokens"] != 6 {
		t.Errorf("precision_tokens default = %v, want 6", initial["precision_tokens"])
	}
	if initial["m00_equipment_inspection"] != false {
		t.Errorf("m00 default = %v, want false", initial["m00_equipment_inspection"])
	}
	if initial.GPKey() != "gracious_professionalism" {
		t.Errorf("GP key = %q", initial.GPKey())
	}

	// Returned maps are copies.
	initial["precision_tokens"] = 0
	if s.InitialMissionsState()["precision_tokens"] != 6 {
		t.Error("InitialMissionsState leaked internal state")
	}
}

func TestComputeMissions(t *testing.T) {
	s := loadSubmerged(t)

	tests := []struct {
		name      string
		edit      tabulation.MissionState
		wantScore int
		wantWarn  []string
	}{
		{name: "initial", wantScore: 50},
		{name: "inspection", edit: tabulation.MissionState{"m00_equipment_inspection": true}, wantScore: 70},
		{
			name:      "coral nursery full",
			edit:      tabulation.MissionState{"m01_coral_tree_hanging": true, "m01_coral_tree_in_holder": true, "m01_coral_buds_up": true},
			wantScore: 100,
		},
		{
			name:      "holder without hanging warns",
			edit:      tabulation.MissionState{"m01_coral_tree_in_holder": true},
			wantScore: 50,
			wantWarn:  []string{"m01_tree_in_holder_needs_hanging"},
		},
		{name: "counted options", edit: tabulation.MissionState{"m08_habitat_segments": 4, "m14_trident_parts": 2}, wantScore: 120},
		{name: "precision lost", edit: tabulation.MissionState{"precision_tokens": 2}, wantScore: 15},
		{name: "gp does not score", edit: tabulation.MissionState{"gracious_professionalism": 0}, wantScore: 50},
		{name: "unknown keys ignored", edit: tabulation.MissionState{"m99_retired": true}, wantScore: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := s.InitialMissionsState()
			for k, v := range tt.edit {
				state[k] = v
			}
			res := s.ComputeMissions(state)
			if res.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", res.Score, tt.wantScore)
			}
			if !reflect.DeepEqual(res.Warnings, tt.wantWarn) {
				t.Errorf("warnings = %v, want %v", res.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	tests := map[string]string{
		"no slug":       "name: x\n",
		"bad type":      "slug: x\nmissions:\n  - id: m\n    options:\n      - key: a\n        type: text\n",
		"bad default":   "slug: x\nmissions:\n  - id: m\n    options:\n      - key: a\n        type: int\n        max: 2\n        default: 5\n",
		"duplicate key": "slug: x\nmissions:\n  - id: m\n    options:\n      - key: a\n        type: bool\n      - key: a\n        type: bool\n",
		"bad score":     "slug: x\nmissions:\n  - id: m\n    options:\n      - key: a\n        type: bool\n    score: \"b + 1\"\n",
	}
	for name, doc := range tests {
		if _, err := season.Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"s/a.yaml":   {Data: []byte("slug: alpha\nyear: 2020\nmissions:\n  - id: m\n    options:\n      - key: a\n        type: bool\n    score: \"a ? 5 : 0\"\n")},
		"s/b.yaml":   {Data: []byte("slug: beta\nyear: 2021\nmissions:\n  - id: m\n    options:\n      - key: b\n        type: int\n        max: 3\n    score: \"b * 2\"\n")},
		"s/notes.md": {Data: []byte("ignored")},
	}
	reg, err := season.LoadFS(fsys, "s")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if reg.Current().Slug() != "beta" {
		t.Errorf("current = %q, want beta", reg.Current().Slug())
	}
	alpha, _ := reg.Get("alpha")
	if got := alpha.ComputeMissions(tabulation.MissionState{"a": true}).Score; got != 5 {
		t.Errorf("alpha score = %d, want 5", got)
	}
}

func TestComputeMissionsLogsFailingRules(t *testing.T) {
	doc := `slug: gamma
missions:
  - id: m01
    options:
      - key: raised
        type: bool
    score: "raised ? 20 : 0"
  - id: m02
    options:
      - key: parts
        type: int
        max: 3
    score: "10 % parts"
warnings:
  - code: odd_parts
    when: "10 % parts == 1"
`
	s, err := season.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var logs bytes.Buffer
	s.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	res := s.ComputeMissions(tabulation.MissionState{"raised": true, "parts": 0})
	if res.Score != 20 {
		t.Errorf("score = %d, want 20", res.Score)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	for _, want := range []string{"level=WARN", "mission=m02", "warning=odd_parts", "season=gamma"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}

	logs.Reset()
	res = s.ComputeMissions(tabulation.MissionState{"raised": true, "parts": 3})
	if res.Score != 21 || !reflect.DeepEqual(res.Warnings, []string{"odd_parts"}) {
		t.Errorf("result = %+v, want 21 with odd_parts", res)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected log output:\n%s", logs.String())
	}
}
