package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Section headers emitted by the plugin in memory_analysis.txt.
const (
	HeaderVariables = "VARIABLES:"
	HeaderLiterals  = "LITERALS:"
	HeaderMemory    = "MEMORY USAGE:"
	HeaderBreakdown = "BREAKDOWN:"
)

// Normalized keys the plugin is known to write.
const (
	KeyTotalFloatVariablesFound = "total_float_variables_found"
	KeyTotalFloatLiteralsFound  = "total_float_literals_found"
	KeySuccessfullyDemoted      = "successfully_demoted"
	KeyDemotionSuccessRate      = "demotion_success_rate"
	KeyOriginalMemoryUsage      = "original_memory_usage"
	KeyAfterDemotion            = "after_demotion"
	KeyMemorySaved              = "memory_saved"
	KeyMemoryReduction          = "memory_reduction"
)

// Section is an ordered set of normalized key/raw value pairs.
type Section struct {
	keys   []string
	values map[string]string
}

// NewSection returns an empty section.
func NewSection() *Section {
	return &Section{values: make(map[string]string)}
}

// Set records value under key; a repeated key keeps its first position.
func (s *Section) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the raw value for key.
func (s *Section) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Keys returns keys in the order they appeared.
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Len returns the number of entries.
func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Map copies the entries into a plain map.
func (s *Section) Map() map[string]string {
	out := make(map[string]string, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the section as an object, keys in report order.
func (s *Section) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of strings, keeping key order.
func (s *Section) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("section: expected object, got %v", tok)
	}
	*s = Section{values: make(map[string]string)}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("section: expected key, got %v", kt)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("section %q: %w", key, err)
		}
		s.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// MemoryReport is the parsed form of memory_analysis.txt. A nil section means
// its header never appeared.
type MemoryReport struct {
	Variables *Section `json:"variables,omitempty"`
	Literals  *Section `json:"literals,omitempty"`
	Memory    *Section `json:"memory,omitempty"`
	Breakdown *Section `json:"breakdown,omitempty"`
}

// Empty reports whether no recognized section was found.
func (r *MemoryReport) Empty() bool {
	return r.Variables == nil && r.Literals == nil && r.Memory == nil && r.Breakdown == nil
}

var (
	// an all-caps line ending in a colon, e.g. "EXPLANATION:"
	unknownHeaderRe = regexp.MustCompile(`^[A-Z][A-Z0-9 _/-]*:$`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	leadingNumberRe = regexp.MustCompile(`^[-+]?\d+(\.\d+)?`)
)

// NormalizeKey lower-cases, trims and joins whitespace runs with an underscore.
func NormalizeKey(k string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(k)), "_")
}

// ParseReport scans the report once, line by line. Recognized headers switch
// the current section; "key: value" lines inside a section are recorded;
// everything else is skipped. An unrecognized all-caps header ends the
// current section.
func ParseReport(text string) *MemoryReport {
	report := &MemoryReport{}
	var current *Section

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.Contains(line, HeaderVariables):
			current = sectionFor(&report.Variables)
			continue
		case strings.Contains(line, HeaderLiterals):
			current = sectionFor(&report.Literals)
			continue
		case strings.Contains(line, HeaderMemory):
			current = sectionFor(&report.Memory)
			continue
		case strings.Contains(line, HeaderBreakdown):
			current = sectionFor(&report.Breakdown)
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || current == nil {
			continue
		}
		if unknownHeaderRe.MatchString(trimmed) {
			current = nil
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = NormalizeKey(key)
		if key == "" {
			continue
		}
		current.Set(key, strings.TrimSpace(value))
	}
	return report
}

func sectionFor(slot **Section) *Section {
	if *slot == nil {
		*slot = NewSection()
	}
	return *slot
}

// Savings is the memory reduction the report claims, computed at the point of use.
type Savings struct {
	OriginalBytes int64   `json:"originalBytes"`
	AfterBytes    int64   `json:"afterBytes"`
	SavedBytes    int64   `json:"savedBytes"`
	Percent       float64 `json:"percent"`
}

// Savings parses the memory section. ok is false when the section or either
// byte count is missing.
func (r *MemoryReport) Savings() (Savings, bool) {
	orig, ok1 := LeadingInt(r.Memory, KeyOriginalMemoryUsage)
	after, ok2 := LeadingInt(r.Memory, KeyAfterDemotion)
	if !ok1 || !ok2 {
		return Savings{}, false
	}
	s := Savings{OriginalBytes: orig, AfterBytes: after, SavedBytes: orig - after}
	if orig > 0 {
		s.Percent = float64(s.SavedBytes) / float64(orig) * 100
	}
	return s, true
}

// LeadingInt parses the integer prefix of a value such as "84 bytes" or "100.0%".
func LeadingInt(s *Section, key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	m := leadingNumberRe.FindString(strings.TrimSpace(v))
	if m == "" {
		return 0, false
	}
	if whole, _, found := strings.Cut(m, "."); found {
		m = whole
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
