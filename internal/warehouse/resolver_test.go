package warehouse

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestFamily(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Sicilian Defense: Najdorf Variation", "Sicilian Defense"},
		{"Sicilian Defense", "Sicilian"},
		{"King's Gambit Accepted: Bishop's Gambit", "King's Gambit Accepted"},
		{"Nimzowitsch", "Nimzowitsch"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Family(c.name); got != c.want {
			t.Errorf("Family(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "players_username_key"}
	if !isUniqueViolation(dup) {
		t.Error("bare PgError 23505 not detected")
	}
	if !isUniqueViolation(fmt.Errorf("insert player: %w", dup)) {
		t.Error("wrapped PgError 23505 not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign-key violation misclassified as unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Error("plain error misclassified")
	}
}

func TestResolverResetDropsMemo(t *testing.T) {
	r := NewResolver()
	r.remember("alice", 7, 1500)
	if e, ok := r.players["alice"]; !ok || e.id != 7 {
		t.Fatalf("memo entry = %v, %v", e, ok)
	}

	r.Reset()
	if len(r.players) != 0 || len(r.openings) != 0 {
		t.Error("Reset left memo entries behind")
	}
}

func TestRememberKeepsHighestRating(t *testing.T) {
	r := NewResolver()
	r.remember("alice", 7, 1500)
	r.remember("alice", 7, 1200) // stale snapshot must not lower the memo
	if got := r.players["alice"].maxRating; got != 1500 {
		t.Errorf("maxRating = %d, want 1500", got)
	}
	r.remember("alice", 7, 1800)
	if got := r.players["alice"].maxRating; got != 1800 {
		t.Errorf("maxRating = %d, want 1800", got)
	}
}
