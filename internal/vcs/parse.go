package vcs

import (
	"bytes"
	"fmt"
	"strconv"
)

// parseNameStatus parses NUL-delimited `--name-status -z` output. Renames
// carry their similarity score and two paths; every other status one path.
// Statuses outside A, D, M and R are skipped.
func parseNameStatus(data []byte) ([]ChangeEvent, error) {
	fields := bytes.Split(bytes.TrimRight(data, "\x00\n"), []byte{0})
	var events []ChangeEvent

	for i := 0; i < len(fields); i++ {
		code := string(bytes.TrimSpace(fields[i]))
		if code == "" {
			continue
		}

		switch code[0] {
		case 'R', 'C':
			if i+2 >= len(fields) {
				return events, fmt.Errorf("truncated rename record %q", code)
			}
			oldPath, newPath := string(fields[i+1]), string(fields[i+2])
			i += 2
			if code[0] == 'C' {
				continue
			}
			score, err := strconv.Atoi(code[1:])
			if err != nil {
				return events, fmt.Errorf("invalid rename score %q: %w", code, err)
			}
			status := RenamedPartial
			if score == 100 {
				status = RenamedExact
			}
			events = append(events, ChangeEvent{Status: status, Similarity: score, OldPath: oldPath, NewPath: newPath})

		case 'A', 'D', 'M':
			if i+1 >= len(fields) {
				return events, fmt.Errorf("truncated record %q", code)
			}
			p := string(fields[i+1])
			i++
			status := map[byte]Status{'A': Added, 'D': Deleted, 'M': Modified}[code[0]]
			events = append(events, ChangeEvent{Status: status, OldPath: p, NewPath: p})

		default:
			// T, U, X and B carry one path.
			i++
		}
	}
	return events, nil
}
