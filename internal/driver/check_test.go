package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	allMatched = `[
		{"query":"ABC","query_type":"inchikey","found_match":true,"match_level":"full","matches":[{"inchikey":"ABC"}],"error_message":""},
		{"query":"C","query_type":"smiles","found_match":true,"match_level":"full","matches":[{"smiles":"C"}],"error_message":""}
	]`
	oneMissed = `[
		{"query":"ABC","query_type":"inchikey","found_match":true,"match_level":"full","matches":[],"error_message":""},
		{"query":"XYZ","query_type":"smiles","found_match":false,"match_level":"","matches":null,"error_message":"no compound"}
	]`
)

func TestMatchHits(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"all matched", allMatched, ""},
		{"one missed", oneMissed, "1/2 queries without match: XYZ"},
		{"not json", "Query was empty", "not valid JSON"},
		{"object instead of array", `{"found_match":true}`, "expected a JSON array"},
		{"empty array", `[]`, "no results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MatchHits{}.Check([]byte(tt.body))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchemaCheck_BuiltIn(t *testing.T) {
	check, err := NewCheck(CheckConfig{Type: CheckSchema})
	require.NoError(t, err)
	assert.Equal(t, CheckSchema, check.Name())

	assert.NoError(t, check.Check([]byte(allMatched)))
	assert.NoError(t, check.Check([]byte(oneMissed)))

	err = check.Check([]byte(`[{"query":"ABC","query_type":"formula","found_match":true}]`))
	assert.Error(t, err)

	err = check.Check([]byte(`[{"query":"ABC"}]`))
	assert.Error(t, err)

	err = check.Check([]byte(`nope`))
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestSchemaCheck_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"array","maxItems":1}`), 0o644))

	check, err := NewCheck(CheckConfig{Type: CheckSchema, SchemaFile: path})
	require.NoError(t, err)

	assert.NoError(t, check.Check([]byte(`[1]`)))
	assert.Error(t, check.Check([]byte(`[1,2]`)))
}

func TestNewCheck_Errors(t *testing.T) {
	_, err := NewCheck(CheckConfig{Type: "psychic"})
	assert.Error(t, err)

	_, err = NewCheck(CheckConfig{Type: CheckSchema, SchemaFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = NewSchemaCheck(`{"type": 12}`)
	assert.Error(t, err)
}
