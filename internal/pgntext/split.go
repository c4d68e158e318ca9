package pgntext

import (
	"bufio"
	"io"
	"strings"
)

// RecordScanner reads consecutive game records (tag section plus movetext)
// from a PGN stream. Records are delimited by a tag line following a movetext
// section.
type RecordScanner struct {
	sc      *bufio.Scanner
	pushed  string
	hasPush bool
}

// NewRecordScanner wraps r. The scanner tolerates long movetext lines.
func NewRecordScanner(r io.Reader) *RecordScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &RecordScanner{sc: sc}
}

// Next returns the next raw record, or io.EOF when the stream is exhausted.
func (s *RecordScanner) Next() (string, error) {
	var b strings.Builder
	inTags := false
	inMoves := false

	for {
		line, ok := s.nextLine()
		if !ok {
			if err := s.sc.Err(); err != nil {
				return "", err
			}
			if strings.TrimSpace(b.String()) == "" {
				return "", io.EOF
			}
			return b.String(), nil
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if inTags {
				// Blank line after the tag section starts the movetext.
				inTags = false
				inMoves = true
			}
			b.WriteString("\n")
			continue
		}

		if strings.HasPrefix(trimmed, "[") && inMoves {
			// Tag line after movetext begins the next record.
			s.pushBack(line)
			return b.String(), nil
		}
		if strings.HasPrefix(trimmed, "[") {
			inTags = true
		}

		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (s *RecordScanner) nextLine() (string, bool) {
	if s.hasPush {
		s.hasPush = false
		return s.pushed, true
	}
	if !s.sc.Scan() {
		return "", false
	}
	return s.sc.Text(), true
}

func (s *RecordScanner) pushBack(line string) {
	s.pushed = line
	s.hasPush = true
}

// SplitAll reads every record from r. Convenience for small inputs and tests.
func SplitAll(r io.Reader) ([]string, error) {
	sc := NewRecordScanner(r)
	var out []string
	for {
		rec, err := sc.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
