package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pluginReport is memory_analysis.txt as the plugin writes it.
const pluginReport = `FP16 Demotion Plugin - Memory Usage Analysis
==========================================

VARIABLES:
  Total float variables found: 4
  Successfully demoted: 3
  Demotion success rate: 75.0%

LITERALS:
  Total float literals found: 6
  Successfully demoted: 5
  Demotion success rate: 83.3%

MEMORY USAGE:
  Original memory usage: 40 bytes
  After demotion: 24 bytes
  Memory saved: 16 bytes
  Memory reduction: 40.0%

BREAKDOWN:
  Float (4 bytes each): 10 items
  __fp16 (2 bytes each): 8 items
  Remaining float: 2 items

EXPLANATION:
- Each 'float' uses 4 bytes of memory
- Note: unsafe items remain as float
`

func TestParseReport_PluginOutput(t *testing.T) {
	r := ParseReport(pluginReport)

	assert.Equal(t, map[string]string{
		KeyTotalFloatVariablesFound: "4",
		KeySuccessfullyDemoted:      "3",
		KeyDemotionSuccessRate:      "75.0%",
	}, r.Variables.Map())
	assert.Equal(t, map[string]string{
		KeyTotalFloatLiteralsFound: "6",
		KeySuccessfullyDemoted:     "5",
		KeyDemotionSuccessRate:     "83.3%",
	}, r.Literals.Map())
	assert.Equal(t, map[string]string{
		KeyOriginalMemoryUsage: "40 bytes",
		KeyAfterDemotion:       "24 bytes",
		KeyMemorySaved:         "16 bytes",
		KeyMemoryReduction:     "40.0%",
	}, r.Memory.Map())
	assert.Equal(t, []string{"float_(4_bytes_each)", "__fp16_(2_bytes_each)", "remaining_float"}, r.Breakdown.Keys())

	// the explanation block is not a recognized section
	_, ok := r.Breakdown.Get("-_note")
	assert.False(t, ok)
}

func TestParseReport_SectionsInAnyOrder(t *testing.T) {
	r := ParseReport("MEMORY USAGE:\nAfter  Demotion: 2 bytes\nVARIABLES:\nSuccessfully Demoted: 2\n")

	assert.Equal(t, map[string]string{KeyAfterDemotion: "2 bytes"}, r.Memory.Map())
	assert.Equal(t, map[string]string{KeySuccessfullyDemoted: "2"}, r.Variables.Map())
	assert.Nil(t, r.Literals)
	assert.Nil(t, r.Breakdown)
}

func TestParseReport_IgnoresUnsectionedAndMalformedLines(t *testing.T) {
	text := "Preamble: ignored\n" +
		"VARIABLES:\n" +
		"no colon here\n" +
		": no key\n" +
		"   \n" +
		"Rate: 50%: approx\n" +
		"CUSTOM SECTION:\n" +
		"Hidden: yes\n" +
		"LITERALS:\n" +
		"Found: 1\n"
	r := ParseReport(text)

	assert.Equal(t, map[string]string{"rate": "50%: approx"}, r.Variables.Map())
	assert.Equal(t, map[string]string{"found": "1"}, r.Literals.Map())
	assert.Nil(t, r.Memory)
}

func TestParseReport_EmptyAndHeaderOnly(t *testing.T) {
	assert.True(t, ParseReport("").Empty())
	assert.True(t, ParseReport("nothing useful\n").Empty())

	r := ParseReport("BREAKDOWN:\n")
	require.NotNil(t, r.Breakdown)
	assert.Equal(t, 0, r.Breakdown.Len())
}

func TestParseReport_CRLF(t *testing.T) {
	r := ParseReport("VARIABLES:\r\nSuccessfully demoted: 2\r\n")
	v, ok := r.Variables.Get(KeySuccessfullyDemoted)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "total_float_variables_found", NormalizeKey("  Total Float\tVariables   Found "))
	assert.Equal(t, "", NormalizeKey("   "))
}

func TestMemoryReport_Savings(t *testing.T) {
	s, ok := ParseReport(pluginReport).Savings()
	require.True(t, ok)
	assert.Equal(t, int64(40), s.OriginalBytes)
	assert.Equal(t, int64(24), s.AfterBytes)
	assert.Equal(t, int64(16), s.SavedBytes)
	assert.InDelta(t, 40.0, s.Percent, 0.001)

	_, ok = ParseReport("VARIABLES:\nx: 1\n").Savings()
	assert.False(t, ok)
}

func TestSection_JSONKeepsOrder(t *testing.T) {
	r := ParseReport("BREAKDOWN:\nZeta: 1\nAlpha: 2\n")
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"breakdown":{"zeta":"1","alpha":"2"}}`, string(b))

	var back MemoryReport
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []string{"zeta", "alpha"}, back.Breakdown.Keys())
	assert.Nil(t, back.Variables)
}
