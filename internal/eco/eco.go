// Package eco classifies games against an ECO (Encyclopedia of Chess
// Openings) table. Export records usually carry opening headers already; the
// classifier fills them in for records that arrive without any.
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// Opening is one ECO classification.
type Opening struct {
	ECO  string
	Name string
}

// Database holds opening lines indexed by their final position, so games
// reaching a known position through a different move order still classify.
type Database struct {
	byPosition map[pgn.PackedPosition]Opening
	count      int
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{byPosition: make(map[pgn.PackedPosition]Opening)}
}

// moveNumberRe matches move numbers like "1." or "12..."
var moveNumberRe = regexp.MustCompile(`\d+\.+\s*`)

// maxClassifyPly bounds the replay depth; no cataloged line is longer.
const maxClassifyPly = 40

// LoadDir loads every .tsv file in dir.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}
	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads one TSV file of eco, name, pgn columns. Rows whose move
// lines do not replay are skipped.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		pos := pgn.NewStartingPosition()
		if !applyLine(pos, strings.Fields(moveNumberRe.ReplaceAllString(parts[2], ""))) {
			continue
		}
		db.byPosition[pos.Pack()] = Opening{ECO: parts[0], Name: parts[1]}
		db.count++
	}
	return sc.Err()
}

func applyLine(pos *pgn.GameState, sans []string) bool {
	for _, san := range sans {
		san = strings.TrimSuffix(san, "+")
		san = strings.TrimSuffix(san, "#")
		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return false
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return false
		}
	}
	return true
}

// Classify replays the mainline moves of a game and returns the deepest
// cataloged opening it passes through, or nil when no position matches.
func (db *Database) Classify(sans []string) *Opening {
	if len(sans) > maxClassifyPly {
		sans = sans[:maxClassifyPly]
	}

	pos := pgn.NewStartingPosition()
	var best *Opening
	for _, san := range sans {
		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			break
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
		if o, ok := db.byPosition[pos.Pack()]; ok {
			best = &o
		}
	}
	return best
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}
