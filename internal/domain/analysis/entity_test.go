package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want FlexString
	}{
		{`"1.5"`, "1.5"},
		{`1.500000`, "1.500000"},
		{`-2e-3`, "-2e-3"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f), tt.in)
		assert.Equal(t, tt.want, f)
	}

	var f FlexString
	assert.Error(t, json.Unmarshal([]byte(`true`), &f))
}

func TestSourceFileName(t *testing.T) {
	assert.Equal(t, "source.c", SourceFileName("kernel.c"))
	assert.Equal(t, "source.cpp", SourceFileName("../../etc/Main.CPP"))
	assert.Equal(t, "source.c", SourceFileName("Makefile"))
}

func TestPayload_OmitsAbsentArtifacts(t *testing.T) {
	b, err := json.Marshal(Payload{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("%w after 30s", ErrToolTimeout)
	assert.True(t, errors.Is(err, ErrToolTimeout))
	assert.True(t, IsInfrastructure(err))
	assert.False(t, IsInfrastructure(ErrAdmission))
}

func TestResult_AddDiagnostic(t *testing.T) {
	var r Result
	r.AddDiagnostic(PhaseFloatMap, "bad json at %d", 7)
	assert.Equal(t, []Diagnostic{{Phase: PhaseFloatMap, Message: "bad json at 7"}}, r.Diagnostics)
}
