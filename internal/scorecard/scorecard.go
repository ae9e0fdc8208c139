// Package scorecard drives one referee's tabulation from selection through
// submission.
//
// A Scorecard holds a single tabulation at a time. All mutation goes through
// its methods and all reads through Snapshot. Network calls run with the
// internal lock released; an epoch counter makes responses that arrive after
// a Cancel or a new Start fall on the floor.
package scorecard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fllgameday/refcalc/internal/backup"
	"github.com/fllgameday/refcalc/internal/codec"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// Gateway is the subset of the scoring API the workflow calls.
type Gateway interface {
	FetchOrCreate(ctx context.Context, sel tabulation.Selection) (tabulation.Tabulation, error)
	SaveProgress(ctx context.Context, id string, p tabulation.Progress) error
	VerifyRefCode(ctx context.Context, id, code string) (bool, error)
	Commit(ctx context.Context, id string, form tabulation.CommitForm) (tabulation.Tabulation, error)
	CheckConnectivity(ctx context.Context) bool
}

type Backups interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, rec backup.Record) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// AlwaysConfirm answers yes to every prompt.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) bool { return true })

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is one message on the user-visible notification channel.
type Notice struct {
	Level Level
	Msg   string
	Err   error
}

// Notifier receives notices. It is never called with the scorecard lock held.
type Notifier func(Notice)

// ErrAbandoned is returned when the tabulation was cancelled or replaced
// while a request for it was outstanding.
var ErrAbandoned = errors.New("tabulation was cancelled while the request was outstanding")

const (
	promptOverwrite = "There is already a complete local backup of this team's match. Overwrite it?"
	promptCancel    = "Are you sure you want to cancel this match? You can continue where you left off by restarting it later."
)

type Config struct {
	Engine season.Engine
	// Seasons resolves other seasons by slug, for restore tokens written
	// under a different season and for events bound to one. Optional.
	Seasons   func(slug string) (season.Engine, bool)
	Gateway   Gateway
	Backups   Backups
	Confirm   Confirmer
	Notify    Notifier
	Identity  tabulation.Identity
	SaveDelay time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Outcome describes a finished commit.
type Outcome struct {
	Committed     bool
	Offline       bool
	Score         int
	BackupKey     string
	BackupWritten bool
}

type Scorecard struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	queue    []Notice
	state    State
	epoch    uint64
	engine   season.Engine
	tab      tabulation.Tabulation
	missions tabulation.MissionState
	score    *int
	gp       int
	warnings []string
	locked   bool
	approved bool
	initials string
	refCode  string
	refError string
	token    string
	offline  bool
	saver    *progressSaver
}

func New(cfg Config) *Scorecard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = 750 * time.Millisecond
	}
	if cfg.Confirm == nil {
		cfg.Confirm = AlwaysConfirm
	}
	return &Scorecard{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "scorecard"),
		engine:   cfg.Engine,
		missions: cfg.Engine.InitialMissionsState(),
	}
}

// Snapshot is a read-only copy of the scorecard.
type Snapshot struct {
	State              State
	Tabulation         tabulation.Tabulation
	Season             string
	Missions           tabulation.MissionState
	Score              *int
	GPScore            int
	Warnings           []string
	ScoreLocked        bool
	ScoreApproved      bool
	TeamMemberInitials string
	RefError           string
	Token              string
	Offline            bool
}

// RestorePoint returns the location a reload would resume from.
func (s Snapshot) RestorePoint() RestorePoint {
	return RestorePoint{Season: s.Season, Token: s.Token}
}

func (s *Scorecard) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:              s.state,
		Tabulation:         s.tab,
		Season:             s.engine.Slug(),
		Missions:           s.missions.Clone(),
		GPScore:            s.gp,
		Warnings:           append([]string(nil), s.warnings...),
		ScoreLocked:        s.locked,
		ScoreApproved:      s.approved,
		TeamMemberInitials: s.initials,
		RefError:           s.refError,
		Token:              s.token,
		Offline:            s.offline,
	}
	snap.Tabulation.Missions = s.tab.Missions.Clone()
	if s.score != nil {
		n := *s.score
		snap.Score = &n
	}
	return snap
}

func (s *Scorecard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Engine returns the season the current tabulation is scored under.
func (s *Scorecard) Engine() season.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// release unlocks and then delivers the notices queued while locked.
func (s *Scorecard) release() {
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	if s.cfg.Notify == nil {
		return
	}
	for _, n := range q {
		s.cfg.Notify(n)
	}
}

func (s *Scorecard) note(level Level, msg string) {
	s.queue = append(s.queue, Notice{Level: level, Msg: msg})
}

// fail queues err for the operator and returns it.
func (s *Scorecard) fail(err error) error {
	s.queue = append(s.queue, Notice{Level: LevelError, Msg: err.Error(), Err: err})
	return err
}

func (s *Scorecard) transition(to State) {
	if s.state != to {
		s.logger.Debug("transition", "from", s.state, "to", to, "tabulation", s.tab.ID)
	}
	s.state = to
}

func wrongState(op string, st State) error {
	return &tabulation.ValidationError{
		Condition: tabulation.CondWrongState,
		Msg:       fmt.Sprintf("cannot %s while the scorecard is %s", op, st),
	}
}

func (s *Scorecard) lookupSeason(slug string) (season.Engine, bool) {
	if slug == "" {
		return nil, false
	}
	if slug == s.cfg.Engine.Slug() {
		return s.cfg.Engine, true
	}
	if s.cfg.Seasons == nil {
		return nil, false
	}
	return s.cfg.Seasons(slug)
}

// recompute refreshes score, warnings, GP copy and restore token from missions.
func (s *Scorecard) recompute() {
	res := s.engine.ComputeMissions(s.missions)
	score := res.Score
	s.score = &score
	s.warnings = res.Warnings
	s.gp = s.missions.GPScore()

	token, err := codec.Encode(s.missions, s.engine.Fields())
	if err != nil {
		s.logger.Warn("encoding restore token", "error", err)
		token = ""
	}
	s.token = token
}

func (s *Scorecard) progress() tabulation.Progress {
	p := tabulation.Progress{Missions: s.missions.Clone(), GPScore: s.gp}
	if s.score != nil {
		p.Score = *s.score
	}
	return p
}

// reset drops the tabulation and returns to Empty with default missions.
func (s *Scorecard) reset() {
	s.epoch++
	if s.saver != nil {
		s.saver.Stop()
		s.saver = nil
	}
	s.engine = s.cfg.Engine
	s.tab = tabulation.Tabulation{}
	s.missions = s.engine.InitialMissionsState()
	s.score = nil
	s.gp = s.missions.GPScore()
	s.warnings = nil
	s.locked = false
	s.approved = false
	s.initials = ""
	s.refCode = ""
	s.refError = ""
	s.token = ""
	s.transition(Empty)
}

// Seed shows the missions carried by a restore point before the server copy
// arrives. A token that does not decode is dropped and the defaults shown.
func (s *Scorecard) Seed(p RestorePoint) tabulation.MissionState {
	s.mu.Lock()
	defer s.release()

	if s.state != Empty && s.state != Initializing {
		s.logger.Debug("ignoring restore point", "state", s.state)
		return s.missions.Clone()
	}

	initial := s.engine.InitialMissionsState()
	src := s.engine
	if e, ok := s.lookupSeason(p.Season); ok {
		src = e
	}

	decoded, err := codec.Decode(p.Token, src.Fields())
	if err != nil {
		var mt *codec.MalformedTokenError
		if !errors.As(err, &mt) {
			s.logger.Warn("decoding restore token", "error", err)
		}
		s.logger.Debug("discarding restore token", "season", p.Season, "error", err)
		s.missions = initial
		s.recompute()
		return s.missions.Clone()
	}

	s.missions = tabulation.Reconcile(decoded, initial)
	s.recompute()
	return s.missions.Clone()
}

// Start fetches or creates the tabulation for sel and makes it Active.
func (s *Scorecard) Start(ctx context.Context, sel tabulation.Selection) error {
	s.mu.Lock()
	if s.state != Empty {
		err := s.fail(wrongState("start a new match", s.state))
		s.release()
		return err
	}
	if s.cfg.Identity.Event.ID == "" {
		err := s.fail(&tabulation.ValidationError{Field: "event", Msg: "no event chosen for this referee"})
		s.release()
		return err
	}
	if err := sel.Validate(); err != nil {
		s.fail(err)
		s.release()
		return err
	}
	s.epoch++
	epoch := s.epoch
	s.transition(Initializing)
	s.release()

	tab, err := s.cfg.Gateway.FetchOrCreate(ctx, sel)

	s.mu.Lock()
	defer s.release()
	if s.epoch != epoch {
		return ErrAbandoned
	}
	if err == nil && tab.ID == "" {
		err = &tabulation.TransportError{Op: "fetch tabulation", Err: errors.New("could not initialize new match")}
	}
	if err != nil {
		s.transition(Empty)
		return s.fail(fmt.Errorf("starting %s: %w", sel.Match.Name(), err))
	}

	if e, ok := s.lookupSeason(tab.Event.Season); ok {
		s.engine = e
	} else {
		s.engine = s.cfg.Engine
	}
	if tab.Match == "" {
		tab.Match = sel.Match
	}
	s.tab = tab
	s.missions = tabulation.Reconcile(tab.Missions, s.engine.InitialMissionsState())
	s.locked = false
	s.approved = false
	s.initials = tab.TeamMemberInitials
	s.refCode = ""
	s.refError = ""
	s.recompute()

	id := tab.ID
	s.saver = newProgressSaver(s.cfg.SaveDelay,
		func(p tabulation.Progress) error {
			return s.cfg.Gateway.SaveProgress(context.Background(), id, p)
		},
		func(err error) {
			s.logger.Warn("saving progress", "tabulation", id, "error", err)
			if s.cfg.Notify != nil {
				s.cfg.Notify(Notice{Level: LevelWarn, Msg: "progress not saved: " + err.Error(), Err: err})
			}
		},
	)
	s.transition(Active)
	return nil
}

func (s *Scorecard) requireScorable(op string) error {
	switch s.state {
	case Active:
		return nil
	case Locked, TeamApproved:
		return &tabulation.ValidationError{
			Condition: tabulation.CondNotScorable,
			Msg:       "scores are locked, unlock them with a referee code to make changes",
		}
	}
	return wrongState(op, s.state)
}

// SetMission records one mission option and schedules a progress save.
func (s *Scorecard) SetMission(key string, value any) error {
	s.mu.Lock()
	defer s.release()

	if err := s.requireScorable("score"); err != nil {
		return s.fail(err)
	}
	field, ok := fieldFor(s.engine, key)
	if !ok {
		return s.fail(&tabulation.ValidationError{Field: key, Msg: "not a mission of " + s.engine.Name()})
	}
	v, err := coerceValue(field, value)
	if err != nil {
		return s.fail(err)
	}

	s.missions[key] = v
	s.recompute()
	s.saver.Schedule(s.progress())
	return nil
}

func fieldFor(e season.Engine, key string) (codec.Field, bool) {
	for _, f := range e.Fields() {
		if f.Key == key {
			return f, true
		}
	}
	return codec.Field{}, false
}

func coerceValue(f codec.Field, value any) (any, error) {
	var n int
	switch v := value.(type) {
	case bool:
		if f.Bool {
			return v, nil
		}
		if v {
			n = 1
		}
	case int:
		n = v
	case int64:
		n = int(v)
	default:
		return nil, &tabulation.ValidationError{Field: f.Key, Msg: fmt.Sprintf("unsupported value %v", value)}
	}
	if f.Bool {
		if n != 0 && n != 1 {
			return nil, &tabulation.ValidationError{Field: f.Key, Msg: "must be yes or no"}
		}
		return n == 1, nil
	}
	if n < 0 || n > f.Max {
		return nil, &tabulation.ValidationError{Field: f.Key, Msg: fmt.Sprintf("must be between 0 and %d", f.Max)}
	}
	return n, nil
}

// ResetScore puts every mission back to its default. The tabulation stays open.
func (s *Scorecard) ResetScore() error {
	s.mu.Lock()
	defer s.release()

	if err := s.requireScorable("reset the score"); err != nil {
		return s.fail(err)
	}
	s.missions = s.engine.InitialMissionsState()
	s.initials = ""
	s.refCode = ""
	s.refError = ""
	s.recompute()
	s.saver.Schedule(s.progress())
	return nil
}

// Lock freezes scoring so the team can review it.
func (s *Scorecard) Lock() error {
	s.mu.Lock()
	defer s.release()

	if s.state != Active {
		return s.fail(wrongState("lock", s.state))
	}
	s.locked = true
	s.transition(Locked)
	return nil
}

// Unlock reopens scoring once the server accepts the referee code. It also
// withdraws a team approval so the initials can be taken again.
func (s *Scorecard) Unlock(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.state != Locked && s.state != TeamApproved {
		err := s.fail(wrongState("unlock", s.state))
		s.release()
		return err
	}
	code = tabulation.NormalizeRefCode(code)
	if !tabulation.ValidRefCode(code) {
		err := s.fail(&tabulation.ValidationError{
			Field:     "refCode",
			Condition: tabulation.CondBadRefCode,
			Msg:       "referee code must be 6 letters or digits",
		})
		s.release()
		return err
	}
	epoch := s.epoch
	id := s.tab.ID
	s.release()

	valid, err := s.cfg.Gateway.VerifyRefCode(ctx, id, code)

	s.mu.Lock()
	defer s.release()
	if s.epoch != epoch {
		return ErrAbandoned
	}
	if s.state != Locked && s.state != TeamApproved {
		return s.fail(wrongState("unlock", s.state))
	}
	switch {
	case tabulation.IsTransport(err):
		ae := &tabulation.AuthorizationError{Reason: tabulation.AuthRefCodeUnverified, Err: err}
		s.refError = ae.Error()
		return s.fail(ae)
	case err != nil:
		s.refError = err.Error()
		return s.fail(err)
	case !valid:
		ae := &tabulation.AuthorizationError{Reason: tabulation.AuthRefCodeInvalid}
		s.refError = ae.Error()
		return s.fail(ae)
	}

	s.refError = ""
	s.refCode = code
	s.locked = false
	s.approved = false
	s.transition(Active)
	return nil
}

// Approve records the team's sign-off on the locked score.
func (s *Scorecard) Approve(initials string) error {
	s.mu.Lock()
	defer s.release()

	if s.state != Locked {
		if s.state == Active {
			return s.fail(&tabulation.ValidationError{
				Condition: tabulation.CondWrongState,
				Msg:       "lock the score before the team approves it",
			})
		}
		return s.fail(wrongState("approve", s.state))
	}
	n, err := tabulation.CheckApprovalInitials(initials)
	if err != nil {
		return s.fail(err)
	}
	s.initials = n
	s.approved = true
	s.transition(TeamApproved)
	return nil
}

func (s *Scorecard) commitForm(refCode string) tabulation.CommitForm {
	form := tabulation.CommitForm{
		TeamMemberInitials: s.initials,
		ScoreApproved:      s.approved,
		RefCode:            refCode,
		TeamID:             s.tab.Team.ID,
		MatchID:            s.tab.Match,
		GPScore:            s.missions.GPScore(),
		Missions:           s.missions.Clone(),
		ScoreLocked:        s.locked,
	}
	if s.score != nil {
		n := *s.score
		form.Score = &n
	}
	return form
}

func (s *Scorecard) backupRecord(form tabulation.CommitForm) (string, backup.Record) {
	eventID := s.tab.Event.ID
	if eventID == "" {
		eventID = s.cfg.Identity.Event.ID
	}
	eventName := s.tab.Event.Name
	if eventName == "" {
		eventName = s.cfg.Identity.Event.Name
	}
	refName := s.tab.Referee.Name
	if refName == "" {
		refName = s.cfg.Identity.RefereeName
	}
	refRole := s.tab.Referee.Role
	if refRole == "" {
		refRole = s.cfg.Identity.RefereeRole
	}
	key := backup.Key(s.tab.ID, s.tab.Team.ID, s.tab.Match, eventID)
	return key, backup.Record{
		CommitForm:  form,
		TeamName:    s.tab.Team.Name,
		EventTeamID: s.tab.Team.ID,
		MatchID:     s.tab.Match,
		MatchName:   s.tab.Match.Name(),
		EventName:   eventName,
		EventID:     eventID,
		RefName:     refName,
		RefRole:     refRole,
		SeasonName:  s.engine.Name(),
		TS:          s.cfg.Now().UTC(),
	}
}

// Commit submits the approved score. refCode may be empty when retrying
// with the code from the previous attempt.
func (s *Scorecard) Commit(ctx context.Context, refCode string) (Outcome, error) {
	s.mu.Lock()
	switch s.state {
	case Active, Locked, TeamApproved, CommitFailed:
	default:
		err := s.fail(wrongState("submit", s.state))
		s.release()
		return Outcome{}, err
	}

	code := tabulation.NormalizeRefCode(refCode)
	if code == "" {
		code = s.refCode
	}
	form := s.commitForm(code)
	if err := tabulation.CheckSubmittable(form); err != nil {
		s.fail(err)
		s.release()
		return Outcome{}, err
	}

	s.gp = form.GPScore
	s.refCode = code
	if s.saver != nil {
		s.saver.Stop()
	}
	epoch := s.epoch
	id := s.tab.ID
	key, rec := s.backupRecord(form)
	s.transition(Committing)
	s.release()

	out := Outcome{Score: *form.Score, BackupKey: key}
	out.BackupWritten = s.writeBackup(ctx, key, rec)

	result, err := s.cfg.Gateway.Commit(ctx, id, form)

	s.mu.Lock()
	defer s.release()
	if s.epoch != epoch {
		return out, ErrAbandoned
	}

	if err == nil && (result.ID != id || !result.ScoreApproved) {
		err = &tabulation.TransportError{Op: "commit tabulation", Err: errors.New("server did not confirm the submission")}
	}

	switch {
	case err == nil:
		s.transition(Committed)
		s.note(LevelInfo, "Score received!")
		s.reset()
		out.Committed = true
		return out, nil
	case tabulation.IsTransport(err) && s.offline:
		s.transition(Committed)
		s.note(LevelWarn, "No connection: the score was saved on this device only. Upload it from the backups once back online.")
		s.reset()
		out.Committed = true
		out.Offline = true
		return out, nil
	case tabulation.IsTransport(err):
		s.transition(CommitFailed)
		return out, s.fail(fmt.Errorf("submitting score: %w", err))
	}

	s.transition(TeamApproved)
	return out, s.fail(fmt.Errorf("submitting score: %w", err))
}

// writeBackup stores rec before the submission goes out. Declining an
// overwrite keeps the older backup; the submission proceeds either way.
func (s *Scorecard) writeBackup(ctx context.Context, key string, rec backup.Record) bool {
	if s.cfg.Backups == nil {
		return false
	}
	exists, err := s.cfg.Backups.Exists(ctx, key)
	if err != nil {
		s.logger.Warn("checking backup", "key", key, "error", err)
	}
	if exists && !s.cfg.Confirm.Confirm(ctx, promptOverwrite) {
		s.logger.Info("kept existing backup", "key", key)
		return false
	}
	if err := s.cfg.Backups.Save(ctx, key, rec); err != nil {
		s.logger.Error("saving backup", "key", key, "error", err)
		if s.cfg.Notify != nil {
			s.cfg.Notify(Notice{Level: LevelWarn, Msg: "local backup not saved: " + err.Error(), Err: err})
		}
		return false
	}
	return true
}

// Retry resubmits after a transport failure with the stored referee code.
func (s *Scorecard) Retry(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.state != CommitFailed {
		err := s.fail(wrongState("retry", s.state))
		s.release()
		return Outcome{}, err
	}
	s.release()
	return s.Commit(ctx, "")
}

// Cancel abandons the current tabulation after the operator confirms. It
// reports whether anything was cancelled.
func (s *Scorecard) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	if s.state == Empty {
		s.release()
		return false
	}
	s.release()

	if !s.cfg.Confirm.Confirm(ctx, promptCancel) {
		return false
	}

	s.mu.Lock()
	defer s.release()
	if s.state == Empty {
		return false
	}
	s.reset()
	return true
}

// CheckConnectivity probes the API and records the result for the next commit.
func (s *Scorecard) CheckConnectivity(ctx context.Context) bool {
	online := s.cfg.Gateway.CheckConnectivity(ctx)

	s.mu.Lock()
	defer s.release()
	if s.offline == online {
		if online {
			s.note(LevelInfo, "Back online.")
		} else {
			s.note(LevelWarn, "No connection to the scoring server.")
		}
	}
	s.offline = !online
	return online
}

// Close sends any pending progress save.
func (s *Scorecard) Close() error {
	s.mu.Lock()
	saver := s.saver
	s.mu.Unlock()
	if saver == nil {
		return nil
	}
	return saver.Flush()
}
