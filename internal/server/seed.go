package server

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

// Demo credentials. The session tokens are issued out of band in production;
// here they are fixed so a fresh checkout can score right away.
const (
	DemoEventID      = "qualifier-2024"
	DemoSessionToken = "demo-referee-token"
	DemoRefCode      = "AB12CD"

	demoSecondToken   = "demo-referee-2-token"
	demoSecondRefCode = "GH34IJ"
)

type demoReferee struct {
	user  tabulation.Me
	token string
	ref   RefereeRecord
	code  string
}

// SeedDemo creates the demo event, roster and referees if no events exist.
// Idempotent: does nothing if events already exist.
func SeedDemo(ctx context.Context, logger *slog.Logger, store *DocStore) error {
	existing, err := store.allEvents(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	event := EventRecord{
		Event: tabulation.Event{ID: DemoEventID, Name: "Regional Qualifier", Season: "submerged"},
		Teams: []tabulation.Team{
			{ID: "et-1001", Name: "Robo Raccoons", Number: "1001"},
			{ID: "et-1002", Name: "Deep Divers", Number: "1002"},
			{ID: "et-1003", Name: "Kelp Coders", Number: "1003"},
		},
		Tables: []tabulation.Table{
			{ID: "tbl-a", Name: "Table A"},
			{ID: "tbl-b", Name: "Table B"},
		},
		IsCurrent: true,
	}
	if err := store.putEvent(ctx, event); err != nil {
		return fmt.Errorf("seeding event: %w", err)
	}

	referees := []demoReferee{
		{
			user:  tabulation.Me{ID: "usr-ada", Email: "ada@example.org", FirstName: "Ada", LastName: "Lovelace", Roles: []string{"referee"}},
			token: DemoSessionToken,
			ref:   RefereeRecord{ID: "ref-ada", UserID: "usr-ada", EventID: DemoEventID, Name: "Ada Lovelace", Role: "head referee"},
			code:  DemoRefCode,
		},
		{
			user:  tabulation.Me{ID: "usr-grace", Email: "grace@example.org", FirstName: "Grace", LastName: "Hopper", Roles: []string{"referee"}},
			token: demoSecondToken,
			ref:   RefereeRecord{ID: "ref-grace", UserID: "usr-grace", EventID: DemoEventID, Name: "Grace Hopper", Role: "referee"},
			code:  demoSecondRefCode,
		},
	}
	for _, d := range referees {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.code), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing referee code: %w", err)
		}
		d.ref.RefCodeHash = string(hash)
		if err := store.putReferee(ctx, d.ref); err != nil {
			return fmt.Errorf("seeding referee %s: %w", d.ref.ID, err)
		}
		if err := store.putSession(ctx, sessionDoc{Token: d.token, User: d.user}); err != nil {
			return fmt.Errorf("seeding session: %w", err)
		}
	}

	logger.Info("demo event seeded", "event", DemoEventID, "referees", len(referees))
	return nil
}
