// Package ranker implements the Hypothesis Ranker (§4.5): it orders
// hypotheses by confidence, collapses near-duplicate statements,
// flags conflicts between surviving hypotheses without dropping
// either side, and truncates to a bounded shortlist.
package ranker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/compass-investigate/compass/internal/scientific"
)

// DefaultTopN and DefaultSimilarityThreshold are the ranker's defaults
// when a Ranker is constructed with New().
const (
	DefaultTopN                = 5
	DefaultSimilarityThreshold = 0.7
)

var stopWords = map[string]struct{}{
	"the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "a": {}, "an": {},
}

var abbreviations = map[string]string{
	"db":   "database",
	"conn": "connection",
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Ranked is one hypothesis's position and confidence in the shortlist.
type Ranked struct {
	Hypothesis *scientific.Hypothesis
	Rank       int
	Reasoning  string
}

// Result is the Ranker's full output: the top-N shortlist, how many
// near-duplicate statements were collapsed into survivors, and a
// human-readable message for every conflict detected between two kept
// hypotheses. Conflicting hypotheses are both kept in Ranked; a
// conflict is a flag for the Decision Interface, not a removal.
type Result struct {
	Ranked            []Ranked
	DeduplicatedCount int
	Conflicts         []string
}

// Ranker ranks and deduplicates a set of hypotheses.
type Ranker struct {
	TopN                int
	SimilarityThreshold float64
}

// New returns a Ranker with default settings.
func New() *Ranker {
	return &Ranker{TopN: DefaultTopN, SimilarityThreshold: DefaultSimilarityThreshold}
}

// Rank sorts hypotheses by initial confidence descending, collapses
// near-duplicate statements (Jaccard similarity over normalized tokens)
// into their higher-ranked survivor, flags conflicts between surviving
// hypotheses without removing either side, and truncates to TopN.
func (r *Ranker) Rank(hypotheses []*scientific.Hypothesis) Result {
	topN := r.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	threshold := r.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	sorted := make([]*scientific.Hypothesis, len(hypotheses))
	copy(sorted, hypotheses)
	stableSortByConfidenceDesc(sorted)

	type kept struct {
		h      *scientific.Hypothesis
		tokens map[string]struct{}
	}
	var keptList []kept
	deduplicatedCount := 0

	for _, h := range sorted {
		tokens := normalize(h.Statement)

		duplicate := false
		for _, k := range keptList {
			if jaccardOrSubset(tokens, k.tokens) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			deduplicatedCount++
			continue
		}
		keptList = append(keptList, kept{h: h, tokens: tokens})
	}

	var conflictMsgs []string
	for i, k := range keptList {
		for _, other := range keptList[i+1:] {
			if msg, found := conflictMessage(k.h, other.h); found {
				conflictMsgs = append(conflictMsgs, msg)
			}
		}
	}

	if len(keptList) > topN {
		keptList = keptList[:topN]
	}

	ranked := make([]Ranked, 0, len(keptList))
	for i, k := range keptList {
		rank := i + 1
		ranked = append(ranked, Ranked{
			Hypothesis: k.h,
			Rank:       rank,
			Reasoning:  fmt.Sprintf("Ranked #%d of %d with confidence %.2f", rank, len(keptList), k.h.CurrentConfidence),
		})
	}
	return Result{
		Ranked:            ranked,
		DeduplicatedCount: deduplicatedCount,
		Conflicts:         conflictMsgs,
	}
}

// conflictMessage reports whether candidate's statement overlaps with
// any term in hyp1's conflicts_with metadata, and if so returns a
// message naming both hypotheses and their confidences.
func conflictMessage(hyp1, candidate *scientific.Hypothesis) (string, bool) {
	raw, ok := hyp1.Metadata["conflicts_with"]
	if !ok {
		return "", false
	}
	terms, ok := raw.([]string)
	if !ok {
		return "", false
	}
	candidateTokens := normalize(candidate.Statement)
	for _, term := range terms {
		termTokens := normalize(term)
		for t := range termTokens {
			if _, found := candidateTokens[t]; found {
				return fmt.Sprintf("Conflict: '%s' vs '%s' (confidence: %.2f vs %.2f)",
					hyp1.Statement, candidate.Statement, hyp1.InitialConfidence, candidate.InitialConfidence), true
			}
		}
	}
	return "", false
}

// jaccardOrSubset returns the Jaccard similarity of a and b, or 1.0 if
// one is a subset of the other (the subset short-circuit catches a
// short, fully-contained restatement that would otherwise score low on
// raw Jaccard).
func jaccardOrSubset(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if isSubset(a, b) || isSubset(b, a) {
		return 1.0
	}

	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func isSubset(a, b map[string]struct{}) bool {
	if len(a) == 0 || len(a) > len(b) {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}

// normalize lowercases, tokenizes, strips stop words, and expands known
// abbreviations, returning a token set.
func normalize(statement string) map[string]struct{} {
	words := tokenPattern.FindAllString(strings.ToLower(statement), -1)
	tokens := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if expanded, ok := abbreviations[w]; ok {
			w = expanded
		}
		tokens[w] = struct{}{}
	}
	return tokens
}

// stableSortByConfidenceDesc sorts hypotheses by InitialConfidence
// descending, preserving input order among ties.
func stableSortByConfidenceDesc(hs []*scientific.Hypothesis) {
	for i := 1; i < len(hs); i++ {
		j := i
		for j > 0 && hs[j-1].InitialConfidence < hs[j].InitialConfidence {
			hs[j-1], hs[j] = hs[j], hs[j-1]
			j--
		}
	}
}
