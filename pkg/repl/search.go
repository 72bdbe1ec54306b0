package repl

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

// MatchResult represents a single patient search match.
type MatchResult struct {
	PatientID string
	Score     float64
}

// FindPatientsBySimilarity searches for patient identifiers similar to the
// query string. It combines Levenshtein distance with token-wise matching so
// both typos ("jhon" for "john") and partial names ("smith" for
// "john_smith") resolve.
func FindPatientsBySimilarity(query string, patients []string) []string {
	if query == "" || len(patients) == 0 {
		return nil
	}

	queryLower := strings.ToLower(query)
	queryTokens := tokenize(queryLower)

	var results []MatchResult

	for _, patient := range patients {
		if patient == "" {
			continue
		}
		score := calculateScore(queryLower, queryTokens, patient)
		if score > 0.3 {
			results = append(results, MatchResult{PatientID: patient, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	limit := 10
	if len(results) < limit {
		limit = len(results)
	}

	top := make([]string, limit)
	for i := 0; i < limit; i++ {
		top[i] = results[i].PatientID
	}
	return top
}

// calculateScore returns a similarity score between 0 and 1.
func calculateScore(queryLower string, queryTokens map[string]bool, patient string) float64 {
	patientLower := strings.ToLower(patient)

	if queryLower == patientLower {
		return 1.0
	}
	if strings.Contains(patientLower, queryLower) {
		return 0.95
	}

	// Global Levenshtein for near-exact identifiers.
	levDist := levenshtein.Distance(queryLower, patientLower, nil)
	maxLen := float64(len(queryLower))
	if len(patientLower) > int(maxLen) {
		maxLen = float64(len(patientLower))
	}
	globalScore := 1.0 - (float64(levDist) / maxLen)
	if globalScore < 0 {
		globalScore = 0
	}

	// Token-wise matching for multi-part identifiers like "john_smith".
	patientTokens := tokenize(patientLower)

	totalTokenScore := 0.0
	for qToken := range queryTokens {
		bestTokenScore := 0.0
		if patientTokens[qToken] {
			bestTokenScore = 1.0
		} else {
			for pToken := range patientTokens {
				dist := levenshtein.Distance(qToken, pToken, nil)
				tMax := float64(len(qToken))
				if len(pToken) > int(tMax) {
					tMax = float64(len(pToken))
				}
				score := 1.0 - (float64(dist) / tMax)
				if score > bestTokenScore {
					bestTokenScore = score
				}
			}
		}
		totalTokenScore += bestTokenScore
	}

	tokenScore := 0.0
	if len(queryTokens) > 0 {
		tokenScore = totalTokenScore / float64(len(queryTokens))
	}

	return math.Max(globalScore, tokenScore)
}

// tokenize splits an identifier into unique lowercase tokens, handling
// camelCase, snake_case, and standard separators.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	var current strings.Builder

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			if current.Len() > 0 {
				tokens[strings.ToLower(current.String())] = true
				current.Reset()
			}
		} else {
			if unicode.IsUpper(r) && current.Len() > 0 {
				tokens[strings.ToLower(current.String())] = true
				current.Reset()
			}
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens[strings.ToLower(current.String())] = true
	}
	return tokens
}
