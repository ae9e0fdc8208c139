package database_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fllgameday/refcalc/internal/database"
)

func TestOpenCreatesBackupDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device", "backups.db")

	db, err := database.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("parent directory: %v", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "in memory", path: database.MemoryPath},
		{name: "file", path: filepath.Join(t.TempDir(), "refcalc.db")},
		{name: "empty path", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := database.Open(context.Background(), tt.path)
			if tt.wantErr {
				if err == nil {
					db.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer db.Close()
			if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
				t.Errorf("create table: %v", err)
			}
		})
	}
}
