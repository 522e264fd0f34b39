package lookup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountryTable() *Table {
	return &Table{
		Name: "country_codes",
		Options: []Option{
			{Match: []string{"Germany", "Deutschland"}, Value: "DE"},
			{Match: []string{"France"}, Value: "FR"},
		},
	}
}

func TestTableMatch_KnownValue(t *testing.T) {
	table := newCountryTable()

	value, err := table.Match("Germany")

	require.NoError(t, err)
	assert.Equal(t, "DE", value)
}

func TestTableMatch_AlternateSpelling(t *testing.T) {
	table := newCountryTable()

	value, err := table.Match("Deutschland")

	require.NoError(t, err)
	assert.Equal(t, "DE", value)
}

func TestTableMatch_UnmatchedValue(t *testing.T) {
	table := newCountryTable()

	_, err := table.Match("USA")

	require.Error(t, err)

	var unmatched *UnmatchedValueError

	require.True(t, errors.As(err, &unmatched))
	assert.Equal(t, "country_codes", unmatched.Table)
	assert.Equal(t, "USA", unmatched.Value)
}

func TestTableMatch_TableDefault(t *testing.T) {
	fallback := "XX"
	table := newCountryTable()
	table.Default = &fallback

	value, err := table.Match("USA")

	require.NoError(t, err)
	assert.Equal(t, "XX", value)
}

func TestTableMatch_Normalize(t *testing.T) {
	table := newCountryTable()
	table.Normalize = true

	value, err := table.Match("  gErMaNy ")

	require.NoError(t, err)
	assert.Equal(t, "DE", value)
}

func TestTableGetValue(t *testing.T) {
	table := newCountryTable()

	assert.Equal(t, "FR", table.GetValue("France", "ZZ"))
	assert.Equal(t, "ZZ", table.GetValue("USA", "ZZ"))
}

func TestTableGetValue_DefaultBeatsCallerFallback(t *testing.T) {
	fallback := "XX"
	table := newCountryTable()
	table.Default = &fallback

	// A declared table default is a match, so the caller fallback is unused.
	assert.Equal(t, "XX", table.GetValue("USA", "ZZ"))
}
