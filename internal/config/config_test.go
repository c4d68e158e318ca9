package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pawnstats/pawnstats/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "postgres:\n  host: localhost\n  database: pawnstats\n  user: pawnstats\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.SSLMode != "disable" {
		t.Errorf("postgres defaults = %d/%s", cfg.Postgres.Port, cfg.Postgres.SSLMode)
	}
	if cfg.Source.BaseURL != "https://lichess.org" {
		t.Errorf("BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.Source.PageSize != 300 || cfg.Source.Retries != 4 {
		t.Errorf("source defaults = %d/%d", cfg.Source.PageSize, cfg.Source.Retries)
	}
	if got := cfg.Source.PerfTypes; len(got) != 2 || got[0] != "blitz" || got[1] != "rapid" {
		t.Errorf("PerfTypes = %v", got)
	}
	if cfg.Pipeline.UpsetThreshold != 150 || cfg.Pipeline.BatchRetries != 3 {
		t.Errorf("pipeline defaults = %d/%d", cfg.Pipeline.UpsetThreshold, cfg.Pipeline.BatchRetries)
	}

	since, err := cfg.Source.SinceTime()
	if err != nil {
		t.Fatalf("SinceTime: %v", err)
	}
	if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); !since.Equal(want) {
		t.Errorf("SinceTime = %v, want %v", since, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LICHESS_API_TOKEN", "lip_test123")
	t.Setenv("PAWNSTATS_DB_PASSWORD", "hunter2")

	path := writeConfig(t, "source:\n  token: from-file\npostgres:\n  password: from-file\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Token != "lip_test123" {
		t.Errorf("Token = %q, env should win", cfg.Source.Token)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("Password = %q, env should win", cfg.Postgres.Password)
	}
}

func TestLoadBadSince(t *testing.T) {
	path := writeConfig(t, "source:\n  since: not-a-date\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unparseable source.since")
	}
}

func TestConnString(t *testing.T) {
	p := config.PostgresConfig{
		Host: "db", Port: 5433, Database: "stats", User: "u", Password: "p", SSLMode: "require",
	}
	want := "host=db port=5433 user=u password=p dbname=stats sslmode=require"
	if got := p.ConnString(); got != want {
		t.Errorf("ConnString = %q, want %q", got, want)
	}
}

func TestUsernamesFromFile(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "users.txt")
	body := "# tracked accounts\nDrNykterstein\n\npenguingim1\n"
	if err := os.WriteFile(userFile, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	src := config.SourceConfig{Users: []string{"alice"}, UserFile: userFile}
	users, err := src.Usernames()
	if err != nil {
		t.Fatalf("Usernames: %v", err)
	}
	want := []string{"alice", "DrNykterstein", "penguingim1"}
	if len(users) != len(want) {
		t.Fatalf("got %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("users[%d] = %q, want %q", i, users[i], want[i])
		}
	}
}
