package lichess_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/lichess"
	"github.com/pawnstats/pawnstats/internal/model"
)

// gamePGN renders one minimal export record played at the given time.
func gamePGN(id string, playedAt time.Time) string {
	return fmt.Sprintf(`[Event "Rated Blitz game"]
[Site "https://lichess.org/%s"]
[White "alice"]
[Black "bob"]
[Result "1-0"]
[UTCDate "%s"]
[UTCTime "%s"]

1-0

`, id, playedAt.Format("2006.01.02"), playedAt.Format("15:04:05"))
}

func testClient(t *testing.T, srv *httptest.Server, opts lichess.Options) *lichess.Client {
	t.Helper()
	opts.BaseURL = srv.URL
	if opts.PageSize == 0 {
		opts.PageSize = 2
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return lichess.NewClient(opts, zerolog.Nop())
}

func TestFetchPagePagination(t *testing.T) {
	base := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	var sinceSeen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/games/user/alice" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		sinceSeen = append(sinceSeen, q.Get("since"))
		if q.Get("sort") != "dateAsc" || q.Get("max") != "2" {
			t.Errorf("query = %v", q)
		}

		// Full first page, then a short final one.
		if len(sinceSeen) == 1 {
			fmt.Fprint(w, gamePGN("game0001", base), gamePGN("game0002", base.Add(time.Minute)))
			return
		}
		fmt.Fprint(w, gamePGN("game0003", base.Add(2*time.Minute)))
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{})

	page, err := c.FetchPage(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Games) != 2 || page.Last {
		t.Fatalf("page 1: %d games, last=%v", len(page.Games), page.Last)
	}
	wantCursor := base.Add(time.Minute).UnixMilli() + 1
	if page.NextCursor != wantCursor {
		t.Errorf("NextCursor = %d, want %d", page.NextCursor, wantCursor)
	}

	page, err = c.FetchPage(context.Background(), "alice", page.NextCursor)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Games) != 1 || !page.Last {
		t.Fatalf("page 2: %d games, last=%v", len(page.Games), page.Last)
	}
	if sinceSeen[1] != strconv.FormatInt(wantCursor, 10) {
		t.Errorf("second request since = %s, want %d", sinceSeen[1], wantCursor)
	}
}

func TestFetchPageRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, gamePGN("game0001", time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)))
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{})
	page, err := c.FetchPage(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("FetchPage after retry: %v", err)
	}
	if len(page.Games) != 1 {
		t.Fatalf("got %d games", len(page.Games))
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestFetchPagePermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{})
	_, err := c.FetchPage(context.Background(), "alice", 0)

	var fe *lichess.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Status != http.StatusUnauthorized || fe.Attempts != 1 {
		t.Errorf("FetchError = status %d attempts %d", fe.Status, fe.Attempts)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 401)", calls.Load())
	}
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{MaxRetries: 2})
	_, err := c.FetchPage(context.Background(), "alice", 0)

	var fe *lichess.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Attempts != 2 || fe.Status != http.StatusBadGateway {
		t.Errorf("FetchError = status %d attempts %d", fe.Status, fe.Attempts)
	}
}

func TestFetchPageHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, srv, lichess.Options{})
	if _, err := c.FetchPage(ctx, "alice", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFetchPageSendsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer lip_secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/x-chess-pgn" {
			t.Errorf("Accept = %q", got)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{Token: "lip_secret"})
	if _, err := c.FetchPage(context.Background(), "alice", 0); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
}

func TestGameStreamWalksAllUsers(t *testing.T) {
	base := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One short page per user, so each user is exhausted in one fetch.
		switch r.URL.Path {
		case "/api/games/user/alice":
			fmt.Fprint(w, gamePGN("game0001", base))
		case "/api/games/user/bob":
			fmt.Fprint(w, gamePGN("game0002", base.Add(time.Hour)))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{})
	stream := lichess.NewGameStream(c, []string{"alice", "bob"}, nil, 0, zerolog.Nop())

	var all []model.RawGame
	for {
		games, done, err := stream.NextBatch(context.Background(), 100)
		if err != nil {
			t.Fatalf("NextBatch: %v", err)
		}
		if done {
			break
		}
		all = append(all, games...)
	}
	if len(all) != 2 {
		t.Fatalf("got %d games across users, want 2", len(all))
	}
	if all[0].Username != "alice" || all[1].Username != "bob" {
		t.Errorf("usernames = %q, %q", all[0].Username, all[1].Username)
	}

	cur := stream.Cursor()
	if cur["alice"] != base.UnixMilli()+1 {
		t.Errorf("alice cursor = %d, want %d", cur["alice"], base.UnixMilli()+1)
	}
	if cur["bob"] != base.Add(time.Hour).UnixMilli()+1 {
		t.Errorf("bob cursor = %d, want %d", cur["bob"], base.Add(time.Hour).UnixMilli()+1)
	}
}

func TestGameStreamResume(t *testing.T) {
	var sinceSeen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sinceSeen = r.URL.Query().Get("since")
	}))
	defer srv.Close()

	c := testClient(t, srv, lichess.Options{})
	resume := model.Cursor{"alice": 1_600_000_000_000}
	stream := lichess.NewGameStream(c, []string{"alice"}, resume, 1, zerolog.Nop())

	if _, _, err := stream.NextBatch(context.Background(), 100); err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if sinceSeen != "1600000000000" {
		t.Errorf("since = %s, want resume cursor", sinceSeen)
	}
}
