package keel

import (
	"math"
	"sort"
)

// Weights for one argument against one parameter. Lower is better.
const (
	weightExact          = 0
	weightInterfaceHop   = 1
	weightEmptyInterface = 1
	weightConversion     = 16
	weightUnmatchable    = math.MaxInt32
)

// argMatch records how a single argument fits a single parameter. It is the
// only input of the weighting functions below, so they never touch reflect.
type argMatch struct {
	// mismatch marks an argument that cannot be passed at all.
	mismatch bool
	// nilArg marks an absent optional argument passed as the zero value.
	nilArg bool
	exact  bool
	// converted marks a literal that must be converted to the parameter type.
	converted bool
	// interfaceHops counts interface boundaries crossed by assignment.
	interfaceHops int
	// emptyInterface marks a parameter of type any.
	emptyInterface bool
}

func (m argMatch) weight() int {
	switch {
	case m.mismatch:
		return weightUnmatchable
	case m.nilArg, m.exact:
		return weightExact
	}

	w := m.interfaceHops * weightInterfaceHop
	if m.emptyInterface {
		w += weightEmptyInterface
	}

	if m.converted {
		w += weightConversion
	}

	return w
}

// typeDifferenceWeight sums the per-argument weights of one candidate.
// Any unmatchable argument makes the whole candidate unmatchable.
func typeDifferenceWeight(matches []argMatch) int {
	total := 0

	for _, m := range matches {
		w := m.weight()
		if w == weightUnmatchable {
			return weightUnmatchable
		}

		total += w
	}

	return total
}

// candidateShape is the sortable part of a constructor candidate.
type candidateShape struct {
	index  int
	public bool
	params int
}

// sortCandidates orders candidates public first, then by descending
// parameter count. The sort is stable, so declaration order breaks ties.
func sortCandidates(shapes []candidateShape) {
	sort.SliceStable(shapes, func(i, j int) bool {
		if shapes[i].public != shapes[j].public {
			return shapes[i].public
		}

		return shapes[i].params > shapes[j].params
	})
}

// scoredCandidate is a candidate whose arguments have all been bound.
type scoredCandidate struct {
	shape     candidateShape
	weight    int
	signature string
}

// selectCandidate picks the lowest-weight candidate in iteration order. When
// lenient is false it also returns the positions of candidates that tie with
// the winner but have a different signature.
func selectCandidate(scored []scoredCandidate, lenient bool) (int, []int) {
	best := -1
	minWeight := weightUnmatchable

	var ties []int

	for i, sc := range scored {
		if sc.weight == weightUnmatchable {
			continue
		}

		switch {
		case best < 0 || sc.weight < minWeight:
			best = i
			minWeight = sc.weight
			ties = nil
		case sc.weight == minWeight && !lenient && sc.signature != scored[best].signature:
			ties = append(ties, i)
		}
	}

	return best, ties
}

// shouldStopSearch reports whether a candidate with params parameters can be
// skipped because a longer one has already matched.
func shouldStopSearch(found bool, foundParams, params int) bool {
	return found && foundParams > params
}
