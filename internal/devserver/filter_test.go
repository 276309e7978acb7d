package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneeroz/pocket-chat/internal/backend"
)

func TestParseFilter(t *testing.T) {
	f, err := parseFilter("from_user='a' && to_user='b'")
	require.NoError(t, err)
	assert.Equal(t, backend.Filter{
		All: []backend.Cond{
			{Field: "from_user", Op: backend.OpEqual, Value: "a"},
			{Field: "to_user", Op: backend.OpEqual, Value: "b"},
		},
	}, f)

	f, err = parseFilter("(from_user='me' || to_user='me') && kind='friend'")
	require.NoError(t, err)
	assert.Equal(t, backend.Filter{
		All: []backend.Cond{{Field: "kind", Op: backend.OpEqual, Value: "friend"}},
		Any: []backend.Cond{
			{Field: "from_user", Op: backend.OpEqual, Value: "me"},
			{Field: "to_user", Op: backend.OpEqual, Value: "me"},
		},
	}, f)

	f, err = parseFilter("participants~'u1'")
	require.NoError(t, err)
	assert.Equal(t, backend.Filter{
		All: []backend.Cond{{Field: "participants", Op: backend.OpContains, Value: "u1"}},
	}, f)

	f, err = parseFilter("")
	require.NoError(t, err)
	assert.True(t, f.IsZero())
}

func TestParseFilterUnescapesQuotes(t *testing.T) {
	f, err := parseFilter(`name='o\'brien'`)
	require.NoError(t, err)
	require.Len(t, f.All, 1)
	assert.Equal(t, "o'brien", f.All[0].Value)
}

func TestParseFilterValueWithSeparators(t *testing.T) {
	// Separators inside a quoted value must not split the filter.
	f, err := parseFilter("last_message='a && b || c'")
	require.NoError(t, err)
	require.Len(t, f.All, 1)
	assert.Equal(t, "a && b || c", f.All[0].Value)
}

func TestParseFilterRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"kind=friend",
		"='x'",
		"kind",
		"(a='1' || b='2') && (c='3' || d='4')",
	} {
		_, err := parseFilter(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseFilterRoundTrip(t *testing.T) {
	// Whatever the client renders, the server parses back unchanged.
	filters := []backend.Filter{
		{All: []backend.Cond{{Field: "conversation", Op: backend.OpEqual, Value: "c1"}}},
		{
			All: []backend.Cond{{Field: "kind", Op: backend.OpEqual, Value: "pending_sent"}},
			Any: []backend.Cond{
				{Field: "from_user", Op: backend.OpEqual, Value: "u1"},
				{Field: "to_user", Op: backend.OpEqual, Value: "u1"},
			},
		},
		{All: []backend.Cond{
			{Field: "participants", Op: backend.OpContains, Value: "u1"},
			{Field: "participants", Op: backend.OpContains, Value: "u2"},
		}},
	}

	for _, want := range filters {
		got, err := parseFilter(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
