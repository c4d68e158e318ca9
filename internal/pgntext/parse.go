// Package pgntext parses single game records from PGN exports into typed
// records. Moves are replayed against a real board, so a malformed or illegal
// move list surfaces as a ParseError instead of a bad ply count.
package pgntext

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/freeeve/pgn/v3"

	"github.com/pawnstats/pawnstats/internal/model"
)

// ParseError describes a single malformed record. One ParseError never aborts
// a batch; the record is skipped and counted.
type ParseError struct {
	GameID string // may be empty when the identifier itself is missing
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	id := e.GameID
	if id == "" {
		id = "?"
	}
	if e.Err != nil {
		return fmt.Sprintf("parse game %s: %s: %v", id, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse game %s: %s", id, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// tagRe matches one PGN tag pair like [White "DrNykterstein"].
var tagRe = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]`)

// moveNumberRe matches move numbers like "1." or "12..."
var moveNumberRe = regexp.MustCompile(`\d+\.+\s*`)

// Parse converts one raw record into a GameRecord. Required headers are the
// two usernames, the result, and a game identifier; everything else degrades
// to absent fields.
func Parse(raw string) (*model.GameRecord, error) {
	tags, movetext := splitSections(raw)

	gameID := gameIDFrom(tags)

	for _, req := range []string{"White", "Black", "Result"} {
		if strings.TrimSpace(tags[req]) == "" {
			return nil, &ParseError{GameID: gameID, Reason: fmt.Sprintf("missing header %q", req)}
		}
	}
	if gameID == "" {
		return nil, &ParseError{Reason: "missing game identifier (Site/GameId header)"}
	}

	winner, err := mapResult(tags["Result"])
	if err != nil {
		return nil, &ParseError{GameID: gameID, Reason: "bad result", Err: err}
	}

	playedAt, err := playedAtFrom(tags)
	if err != nil {
		return nil, &ParseError{GameID: gameID, Reason: "bad timestamp", Err: err}
	}

	sans, err := replayMoves(movetext)
	if err != nil {
		return nil, &ParseError{GameID: gameID, Reason: "malformed move list", Err: err}
	}

	termination := tags["Termination"]
	if termination == "" {
		termination = "Unknown"
	}

	return &model.GameRecord{
		GameID:      gameID,
		PlayedAt:    playedAt,
		White:       tags["White"],
		Black:       tags["Black"],
		WhiteRating: parseRating(tags["WhiteElo"]),
		BlackRating: parseRating(tags["BlackElo"]),
		Winner:      winner,
		Termination: termination,
		Rated:       strings.Contains(strings.ToLower(tags["Event"]), "rated"),
		OpeningECO:  openingECO(tags["ECO"]),
		OpeningName: tags["Opening"],
		TimeClass:   timeClass(tags),
		PlyCount:    len(sans),
		SANMoves:    sans,
	}, nil
}

// splitSections separates the tag section from the movetext.
func splitSections(raw string) (map[string]string, string) {
	tags := make(map[string]string)
	var moves []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := tagRe.FindStringSubmatch(line); m != nil {
			tags[m[1]] = m[2]
			continue
		}
		moves = append(moves, line)
	}
	return tags, strings.Join(moves, " ")
}

func gameIDFrom(tags map[string]string) string {
	if site := tags["Site"]; strings.Contains(site, "/") {
		return site[strings.LastIndex(site, "/")+1:]
	}
	return tags["GameId"]
}

func mapResult(result string) (string, error) {
	switch result {
	case "1-0":
		return model.WinnerWhite, nil
	case "0-1":
		return model.WinnerBlack, nil
	case "1/2-1/2":
		return model.WinnerDraw, nil
	case "*":
		return "", fmt.Errorf("unterminated game")
	default:
		return "", fmt.Errorf("unknown result %q", result)
	}
}

func playedAtFrom(tags map[string]string) (time.Time, error) {
	date := tags["UTCDate"]
	clock := tags["UTCTime"]
	if date == "" {
		date = tags["Date"]
	}
	if clock == "" {
		clock = "00:00:00"
	}
	if date == "" || strings.Contains(date, "?") {
		return time.Time{}, fmt.Errorf("no usable date header")
	}
	return time.Parse("2006.01.02 15:04:05", date+" "+clock)
}

// ecoRe matches a well-formed ECO classification like "B90".
var ecoRe = regexp.MustCompile(`^[A-E][0-9]{2}$`)

func openingECO(eco string) string {
	if ecoRe.MatchString(eco) {
		return eco
	}
	return ""
}

func parseRating(s string) *int {
	if s == "" || s == "?" || s == "-" {
		return nil
	}
	r, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &r
}

var resultTokens = map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}

// replayMoves replays the movetext against a board and returns the cleaned
// mainline SAN moves. A record whose movetext is only a result token has zero
// plies and is valid.
func replayMoves(movetext string) ([]string, error) {
	cleaned := stripBraces(movetext)
	cleaned = moveNumberRe.ReplaceAllString(cleaned, "")

	pos := pgn.NewStartingPosition()
	var sans []string
	terminated := false

	for _, tok := range strings.Fields(cleaned) {
		if terminated {
			return nil, fmt.Errorf("token %q after game terminator", tok)
		}
		if resultTokens[tok] {
			terminated = true
			continue
		}
		if strings.HasPrefix(tok, "$") {
			continue // NAG
		}

		san := strings.TrimRight(tok, "!?")
		san = strings.TrimSuffix(san, "#")
		san = strings.TrimSuffix(san, "+")
		if san == "" {
			continue
		}

		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return nil, fmt.Errorf("move %d %q: %w", len(sans)+1, tok, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return nil, fmt.Errorf("move %d %q: %w", len(sans)+1, tok, err)
		}
		sans = append(sans, san)
	}

	return sans, nil
}

// stripBraces removes {...} comments and (...) variations. Only mainline
// moves count toward the ply total.
func stripBraces(s string) string {
	var b strings.Builder
	depth := 0
	inComment := false
	for _, r := range s {
		switch {
		case inComment:
			if r == '}' {
				inComment = false
			}
		case r == '{':
			inComment = true
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// timeClass derives the time-control class from the Event header, falling
// back to the TimeControl field using the estimated-duration buckets.
func timeClass(tags map[string]string) string {
	event := strings.ToLower(tags["Event"])
	switch {
	case strings.Contains(event, "correspondence"):
		return model.ClassCorrespondence
	case strings.Contains(event, "bullet"): // covers ultrabullet too
		return model.ClassBullet
	case strings.Contains(event, "blitz"):
		return model.ClassBlitz
	case strings.Contains(event, "rapid"):
		return model.ClassRapid
	case strings.Contains(event, "classical") || strings.Contains(event, "standard"):
		return model.ClassClassical
	}

	tc := tags["TimeControl"]
	if tc == "-" {
		return model.ClassCorrespondence
	}
	base, inc, ok := strings.Cut(tc, "+")
	if !ok {
		return ""
	}
	baseS, err1 := strconv.Atoi(base)
	incS, err2 := strconv.Atoi(inc)
	if err1 != nil || err2 != nil {
		return ""
	}

	// Estimated game duration: base plus 40 moves of increment.
	total := baseS + 40*incS
	switch {
	case total < 180:
		return model.ClassBullet
	case total < 480:
		return model.ClassBlitz
	case total < 1500:
		return model.ClassRapid
	default:
		return model.ClassClassical
	}
}
