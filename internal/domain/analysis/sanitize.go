package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const nbsp = '\u00a0'

// bareTokens are the non-JSON literals printf-style float formatting produces.
var bareTokens = map[string]string{
	"inf":  `"Infinity"`,
	"-inf": `"-Infinity"`,
	"nan":  `"NaN"`,
	"-nan": `"NaN"`,
}

// Sanitize repairs the known malformations in float_map.json:
//  1. non-breaking spaces (UTF-8 U+00A0 or a stray Latin-1 0xA0 byte) become plain spaces;
//  2. bare inf/nan tokens in value position become quoted strings.
//
// Step 2 tracks string state, so text inside JSON strings is never rewritten.
func Sanitize(raw string) string {
	return quoteBareTokens(normalizeSpaces(raw))
}

func normalizeSpaces(raw string) string {
	if !strings.ContainsRune(raw, nbsp) && !strings.Contains(raw, "\xa0") {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		switch {
		case r == nbsp:
			b.WriteByte(' ')
		case r == utf8.RuneError && size == 1 && raw[i] == 0xA0:
			b.WriteByte(' ')
		default:
			b.WriteString(raw[i : i+size])
		}
		i += size
	}
	return b.String()
}

func quoteBareTokens(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
		last     byte   // last significant byte outside strings
		stack    []byte // open containers
	)
	b.Grow(len(s) + 16)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				last = c
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ' ', '\t', '\n', '\r':
			b.WriteByte(c)
			continue
		}

		if isTokenStart(s, i) && inValuePosition(last, stack) {
			end := tokenEnd(s, i)
			if repl, ok := bareTokens[s[i:end]]; ok && terminatesValue(s, end) {
				b.WriteString(repl)
				last = '"'
				i = end - 1
				continue
			}
			b.WriteString(s[i:end])
			last = s[end-1]
			i = end - 1
			continue
		}

		b.WriteByte(c)
		last = c
	}
	return b.String()
}

func isTokenStart(s string, i int) bool {
	c := s[i]
	if isLetter(c) {
		return true
	}
	return c == '-' && i+1 < len(s) && isLetter(s[i+1])
}

func tokenEnd(s string, i int) int {
	j := i + 1
	for j < len(s) && isLetter(s[j]) {
		j++
	}
	return j
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func inValuePosition(last byte, stack []byte) bool {
	if last == ':' {
		return true
	}
	if len(stack) > 0 && stack[len(stack)-1] == '[' {
		return last == '[' || last == ','
	}
	return false
}

// terminatesValue reports whether the token ending at i is followed by a comma,
// a closing bracket, a line end, or the end of input.
func terminatesValue(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t':
			continue
		case ',', '}', ']', '\n', '\r':
			return true
		default:
			return false
		}
	}
	return true
}

// ParseFloatMap sanitizes raw and decodes it into an ordered FloatMap.
func ParseFloatMap(raw string) (FloatMap, error) {
	var out FloatMap
	if err := json.Unmarshal([]byte(Sanitize(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FloatMapFile, err)
	}
	if out == nil {
		out = FloatMap{}
	}
	return out, nil
}
