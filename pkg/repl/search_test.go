package repl

import (
	"testing"
)

func TestFindPatientsBySimilarity(t *testing.T) {
	patients := []string{
		"john_smith",
		"jane_smith",
		"mary_jones",
		"robert_brown",
		"anna_lee",
	}

	tests := []struct {
		name     string
		query    string
		expected []string // We expect at least the first one to be the top match
	}{
		{
			name:     "Exact match",
			query:    "john_smith",
			expected: []string{"john_smith"},
		},
		{
			name:     "Typo in query",
			query:    "jhon smith",
			expected: []string{"john_smith"},
		},
		{
			name:     "Partial name",
			query:    "jones",
			expected: []string{"mary_jones"},
		},
		{
			name:     "Case insensitive",
			query:    "ROBERT",
			expected: []string{"robert_brown"},
		},
		{
			name:     "Single token",
			query:    "anna",
			expected: []string{"anna_lee"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPatientsBySimilarity(tt.query, patients)
			if len(got) == 0 {
				t.Errorf("FindPatientsBySimilarity() returned no results for %q", tt.query)
				return
			}
			// Check if expected[0] is in the top 3 results
			found := false
			limit := 3
			if len(got) < limit {
				limit = len(got)
			}

			for i := 0; i < limit; i++ {
				if got[i] == tt.expected[0] {
					found = true
					break
				}
			}

			if !found {
				t.Errorf("FindPatientsBySimilarity() top results = %v, want %v to be in top results", got, tt.expected[0])
			}
		})
	}
}

func TestFindPatientsBySimilarityEmpty(t *testing.T) {
	if got := FindPatientsBySimilarity("", []string{"a"}); got != nil {
		t.Errorf("empty query should return nil, got %v", got)
	}
	if got := FindPatientsBySimilarity("a", nil); got != nil {
		t.Errorf("empty patient list should return nil, got %v", got)
	}
}
