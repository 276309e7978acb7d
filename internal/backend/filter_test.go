package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterString(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name: "single equality",
			filter: Filter{
				All: []Cond{{Field: "kind", Op: OpEqual, Value: "friend"}},
			},
			want: "kind='friend'",
		},
		{
			name: "conjunction",
			filter: Filter{
				All: []Cond{
					{Field: "from_user", Op: OpEqual, Value: "a"},
					{Field: "to_user", Op: OpEqual, Value: "b"},
				},
			},
			want: "from_user='a' && to_user='b'",
		},
		{
			name: "disjunction group first",
			filter: Filter{
				All: []Cond{{Field: "kind", Op: OpEqual, Value: "friend"}},
				Any: []Cond{
					{Field: "from_user", Op: OpEqual, Value: "me"},
					{Field: "to_user", Op: OpEqual, Value: "me"},
				},
			},
			want: "(from_user='me' || to_user='me') && kind='friend'",
		},
		{
			name: "contains",
			filter: Filter{
				All: []Cond{{Field: "participants", Op: OpContains, Value: "me"}},
			},
			want: "participants~'me'",
		},
		{
			name: "quote escaping",
			filter: Filter{
				All: []Cond{{Field: "name", Op: OpEqual, Value: "o'brien"}},
			},
			want: `name='o\'brien'`,
		},
		{
			name: "zero filter",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.String())
		})
	}
}

func TestFilterIsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{All: []Cond{{Field: "id", Op: OpEqual, Value: "x"}}}.IsZero())
	assert.False(t, Filter{Any: []Cond{{Field: "id", Op: OpEqual, Value: "x"}}}.IsZero())
}
