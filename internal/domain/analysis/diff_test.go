package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_Identical(t *testing.T) {
	for _, s := range []string{"", "a", "float x;\nint y;\n"} {
		assert.Empty(t, Diff(s, s))
	}
}

func TestDiff_SingleChangedLine(t *testing.T) {
	a := "int main() {\n  int x = 1;\n  return x;\n}\n"
	b := "int main() {\n  int x = 2;\n  return x;\n}\n"

	got := Diff(a, b)
	require.Len(t, got, 1)
	assert.Equal(t, DiffEntry{LineNumber: 2, Original: "  int x = 1;", Demoted: "  int x = 2;", Kind: DiffOther}, got[0])
}

func TestDiff_Classification(t *testing.T) {
	assert.Equal(t, DiffDemotion, Classify("float x = 1.0;", "__fp16 x = 1.0;"))
	assert.Equal(t, DiffOther, Classify("int x = 1;", "int x = 2;"))
	assert.Equal(t, DiffOther, Classify("double x;", "__fp16 x;"))
	assert.Equal(t, DiffOther, Classify("float x;", "double x;"))
}

func TestDiff_UnequalLengths(t *testing.T) {
	got := Diff("a\nb", "a\nb\nc\nd")
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].LineNumber)
	assert.Equal(t, "", got[0].Original)
	assert.Equal(t, "c", got[0].Demoted)
	assert.Equal(t, 4, got[1].LineNumber)
}

func TestDiff_InsertionDesynchronizes(t *testing.T) {
	// positional comparison: one inserted header line shifts everything after it
	got := Diff("float a;\nfloat b;\n", "// header\nfloat a;\nfloat b;\n")
	assert.Len(t, got, 3)
}

func TestDiff_CRLFEqualsLF(t *testing.T) {
	assert.Empty(t, Diff("float a;\r\nint b;\r\n", "float a;\nint b;\n"))
}

func TestCountDemotions(t *testing.T) {
	got := Diff("float a = 1.0f;\nint b = 1;\nfloat c;\n", "__fp16 a = 1.0f;\nint b = 2;\n__fp16 c;\n")
	require.Len(t, got, 3)
	assert.Equal(t, 2, CountDemotions(got))
}
