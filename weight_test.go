package keel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeight_TypeDifferenceWeight(t *testing.T) {
	tests := []struct {
		name    string
		matches []argMatch
		want    int
	}{
		{"no arguments", nil, 0},
		{"exact", []argMatch{{exact: true}, {exact: true}}, 0},
		{"nil argument", []argMatch{{nilArg: true}}, 0},
		{"interface hop", []argMatch{{interfaceHops: 1}}, weightInterfaceHop},
		{"empty interface", []argMatch{{interfaceHops: 1, emptyInterface: true}}, weightInterfaceHop + weightEmptyInterface},
		{"conversion", []argMatch{{converted: true}}, weightConversion},
		{"sum", []argMatch{{exact: true}, {interfaceHops: 1}, {converted: true}}, weightInterfaceHop + weightConversion},
		{"mismatch wins", []argMatch{{exact: true}, {mismatch: true}}, weightUnmatchable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, typeDifferenceWeight(tt.matches))
		})
	}
}

func TestWeight_SortCandidates(t *testing.T) {
	shapes := []candidateShape{
		{index: 0, public: false, params: 3},
		{index: 1, public: true, params: 1},
		{index: 2, public: true, params: 2},
		{index: 3, public: true, params: 2},
		{index: 4, public: false, params: 0},
	}

	sortCandidates(shapes)

	order := make([]int, len(shapes))
	for i, s := range shapes {
		order[i] = s.index
	}

	assert.Equal(t, []int{2, 3, 1, 0, 4}, order)
}

func TestWeight_SelectCandidate(t *testing.T) {
	scored := []scoredCandidate{
		{weight: 16, signature: "func(int) *T"},
		{weight: 0, signature: "func(string) *T"},
		{weight: 0, signature: "func(fmt.Stringer) *T"},
	}

	best, ties := selectCandidate(scored, false)
	assert.Equal(t, 1, best)
	assert.Equal(t, []int{2}, ties)

	best, ties = selectCandidate(scored, true)
	assert.Equal(t, 1, best)
	assert.Empty(t, ties)
}

func TestWeight_SelectCandidateIgnoresSameSignature(t *testing.T) {
	scored := []scoredCandidate{
		{weight: 0, signature: "func() *T"},
		{weight: 0, signature: "func() *T"},
	}

	best, ties := selectCandidate(scored, false)
	assert.Equal(t, 0, best)
	assert.Empty(t, ties)
}

func TestWeight_SelectCandidateNothingMatches(t *testing.T) {
	best, ties := selectCandidate(nil, false)
	assert.Equal(t, -1, best)
	assert.Empty(t, ties)

	best, _ = selectCandidate([]scoredCandidate{{weight: weightUnmatchable}}, false)
	assert.Equal(t, -1, best)
}

func TestWeight_LowerWeightResetsTies(t *testing.T) {
	scored := []scoredCandidate{
		{weight: 2, signature: "a"},
		{weight: 2, signature: "b"},
		{weight: 1, signature: "c"},
	}

	best, ties := selectCandidate(scored, false)
	assert.Equal(t, 2, best)
	assert.Empty(t, ties)
}

func TestWeight_ShouldStopSearch(t *testing.T) {
	assert.False(t, shouldStopSearch(false, 0, 0))
	assert.False(t, shouldStopSearch(true, 2, 2))
	assert.True(t, shouldStopSearch(true, 2, 1))
	assert.False(t, shouldStopSearch(true, 1, 2))
}
