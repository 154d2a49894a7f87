package analysis

import "strings"

// DiffKind classifies a differing line.
type DiffKind string

const (
	DiffDemotion DiffKind = "demotion"
	DiffOther    DiffKind = "other"
)

// DiffEntry is one 1-based line where original and transformed differ.
type DiffEntry struct {
	LineNumber int      `json:"lineNumber"`
	Original   string   `json:"original"`
	Demoted    string   `json:"demoted"`
	Kind       DiffKind `json:"type"`
}

// Diff compares original and transformed strictly by line index. A missing
// line counts as empty. It does not align insertions or deletions: one added
// line shifts every comparison after it.
func Diff(original, transformed string) []DiffEntry {
	a := splitLines(original)
	b := splitLines(transformed)
	n := max(len(a), len(b))

	var out []DiffEntry
	for i := 0; i < n; i++ {
		o, t := lineAt(a, i), lineAt(b, i)
		if o == t {
			continue
		}
		out = append(out, DiffEntry{
			LineNumber: i + 1,
			Original:   o,
			Demoted:    t,
			Kind:       Classify(o, t),
		})
	}
	return out
}

// Classify tags a changed line pair as a float → __fp16 demotion or other.
func Classify(original, transformed string) DiffKind {
	if strings.Contains(original, "float") && strings.Contains(transformed, "__fp16") {
		return DiffDemotion
	}
	return DiffOther
}

// CountDemotions returns how many entries are demotions.
func CountDemotions(entries []DiffEntry) int {
	n := 0
	for _, e := range entries {
		if e.Kind == DiffDemotion {
			n++
		}
	}
	return n
}

// splitLines splits on "\n" and drops a trailing "\r", so CRLF and LF
// inputs compare equal.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}
