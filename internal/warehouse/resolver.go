package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres SQLSTATE for unique-constraint violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type openingKey struct {
	eco  string
	name string
}

type playerEntry struct {
	id        int64
	maxRating int
}

// Resolver maps usernames and (eco, name) pairs to surrogate ids, creating
// entities on first sight. Creation is optimistic: attempt the insert and
// reconcile on a uniqueness conflict by re-reading the existing row.
//
// The memo caches survive across batches; the loader resets them when a batch
// rolls back, since cached ids may then refer to rows that never committed.
type Resolver struct {
	mu       sync.Mutex
	players  map[string]playerEntry
	openings map[openingKey]int64
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	r := &Resolver{}
	r.Reset()
	return r
}

// Reset drops the memo caches.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = make(map[string]playerEntry)
	r.openings = make(map[openingKey]int64)
}

// ResolvePlayer returns the surrogate id for username, creating the player if
// unseen, and raises highest_rating to the given snapshot when that exceeds
// the stored maximum. created reports a fresh row.
func (r *Resolver) ResolvePlayer(ctx context.Context, tx pgx.Tx, username string, rating *int) (id int64, created bool, err error) {
	snap := 0
	if rating != nil {
		snap = *rating
	}

	r.mu.Lock()
	entry, hit := r.players[username]
	r.mu.Unlock()

	if hit {
		if snap > entry.maxRating {
			_, err = tx.Exec(ctx,
				`UPDATE players SET highest_rating = GREATEST(COALESCE(highest_rating, $2), $2) WHERE player_id = $1`,
				entry.id, snap)
			if err != nil {
				return 0, false, fmt.Errorf("raise rating for %s: %w", username, err)
			}
			r.remember(username, entry.id, snap)
		}
		return entry.id, false, nil
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO players (username, highest_rating) VALUES ($1, $2)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING player_id`,
		username, rating).Scan(&id)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		// Lost the creation race; fold our snapshot into the existing row.
		var cur int
		err = tx.QueryRow(ctx,
			`SELECT player_id, COALESCE(highest_rating, 0) FROM players WHERE username = $1`,
			username).Scan(&id, &cur)
		if err != nil {
			return 0, false, fmt.Errorf("re-read player %s: %w", username, err)
		}
		if snap > cur {
			_, err = tx.Exec(ctx,
				`UPDATE players SET highest_rating = GREATEST(COALESCE(highest_rating, $2), $2) WHERE player_id = $1`,
				id, snap)
			if err != nil {
				return 0, false, fmt.Errorf("raise rating for %s: %w", username, err)
			}
		} else {
			snap = cur
		}
	default:
		return 0, false, fmt.Errorf("insert player %s: %w", username, err)
	}

	r.remember(username, id, snap)
	return id, created, nil
}

func (r *Resolver) remember(username string, id int64, maxRating int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.players[username]; !ok || maxRating > e.maxRating {
		r.players[username] = playerEntry{id: id, maxRating: maxRating}
	}
}

// ResolveOpening returns the surrogate id for the (eco, name) pair, creating
// the opening on first sight. Openings are immutable once created.
func (r *Resolver) ResolveOpening(ctx context.Context, tx pgx.Tx, eco, name string) (id int64, created bool, err error) {
	key := openingKey{eco: eco, name: name}

	r.mu.Lock()
	cached, hit := r.openings[key]
	r.mu.Unlock()
	if hit {
		return cached, false, nil
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO openings (eco, name, family) VALUES ($1, $2, $3)
		 ON CONFLICT (eco, name) DO NOTHING
		 RETURNING opening_id`,
		eco, name, Family(name)).Scan(&id)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		err = tx.QueryRow(ctx,
			`SELECT opening_id FROM openings WHERE eco = $1 AND name = $2`,
			eco, name).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("re-read opening %s %q: %w", eco, name, err)
		}
	default:
		return 0, false, fmt.Errorf("insert opening %s %q: %w", eco, name, err)
	}

	r.mu.Lock()
	r.openings[key] = id
	r.mu.Unlock()
	return id, created, nil
}

// Family derives the coarse opening grouping from its display name: the part
// before the first colon, else the first word.
func Family(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return name
}
