package align

import "unicode/utf8"

// OperationCounts tallies the operations of an alignment.
type OperationCounts struct {
	Matches       int `json:"matches"`
	Substitutions int `json:"substitutions"`
	Deletions     int `json:"deletions"`
	Insertions    int `json:"insertions"`
}

// Count tallies the operations in a.
func Count(a []AlignedToken) OperationCounts {
	var c OperationCounts
	for _, t := range a {
		switch t.Op() {
		case OpMatch:
			c.Matches++
		case OpSubstitution:
			c.Substitutions++
		case OpDeletion:
			c.Deletions++
		case OpInsertion:
			c.Insertions++
		}
	}
	return c
}

// WERMetrics holds word error rate figures derived from an alignment.
//
// WER and Accuracy/100 do not have to sum to 1: insertions add to the WER
// numerator without growing the reference denominator.
type WERMetrics struct {
	OperationCounts

	TotalReferenceWords  int `json:"total_reference_words"`
	TotalHypothesisWords int `json:"total_hypothesis_words"`

	// WER is (S + D + I) / reference words, or 0 without reference words.
	WER float64 `json:"wer"`

	// Accuracy is matches / reference words * 100, or 0 without reference
	// words.
	Accuracy float64 `json:"accuracy"`
}

// ComputeWER derives [WERMetrics] from an alignment.
func ComputeWER(a []AlignedToken) WERMetrics {
	return fromCounts(Count(a))
}

func fromCounts(c OperationCounts) WERMetrics {
	m := WERMetrics{
		OperationCounts:      c,
		TotalReferenceWords:  c.Matches + c.Substitutions + c.Deletions,
		TotalHypothesisWords: c.Matches + c.Substitutions + c.Insertions,
	}
	if m.TotalReferenceWords > 0 {
		ref := float64(m.TotalReferenceWords)
		m.WER = float64(c.Substitutions+c.Deletions+c.Insertions) / ref
		m.Accuracy = float64(c.Matches) / ref * 100
	}
	return m
}

// Aggregate combines per-utterance metrics into corpus-level metrics by
// summing the operation counts and recomputing the rates.
func Aggregate(ms ...WERMetrics) WERMetrics {
	var c OperationCounts
	for _, m := range ms {
		c.Matches += m.Matches
		c.Substitutions += m.Substitutions
		c.Deletions += m.Deletions
		c.Insertions += m.Insertions
	}
	return fromCounts(c)
}

// ComputeCER returns the character error rate of an alignment. The
// denominator is the total rune length of the reference tokens. Each
// substitution adds the longer of its two tokens, each deletion its
// reference token, and each insertion its hypothesis token. A zero
// denominator yields 0.
func ComputeCER(a []AlignedToken) float64 {
	var errs, total int
	for _, t := range a {
		switch v := t.(type) {
		case Match:
			total += runeLen(v.Ref)
		case Substitution:
			total += runeLen(v.Ref)
			errs += max(runeLen(v.Ref), runeLen(v.Hyp))
		case Deletion:
			total += runeLen(v.Ref)
			errs += runeLen(v.Ref)
		case Insertion:
			errs += runeLen(v.Hyp)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

// Stats summarises an alignment.
type Stats struct {
	Counts OperationCounts `json:"counts"`

	// AverageReferenceTokenLength is the mean rune length of the reference
	// tokens, or 0 without reference tokens.
	AverageReferenceTokenLength float64 `json:"average_reference_token_length"`

	// LongestMatchRun is the longest run of consecutive matches.
	LongestMatchRun int `json:"longest_match_run"`

	// TotalErrors is S + D + I.
	TotalErrors int `json:"total_errors"`
}

// ComputeStats derives [Stats] from an alignment.
func ComputeStats(a []AlignedToken) Stats {
	var (
		s             Stats
		refChars, run int
		refTokens     int
	)
	for _, t := range a {
		if ref, _, ok := RefSlot(t); ok {
			refTokens++
			refChars += runeLen(ref)
		}
		if t.Op() == OpMatch {
			run++
			s.LongestMatchRun = max(s.LongestMatchRun, run)
		} else {
			run = 0
		}
	}
	s.Counts = Count(a)
	s.TotalErrors = s.Counts.Substitutions + s.Counts.Deletions + s.Counts.Insertions
	if refTokens > 0 {
		s.AverageReferenceTokenLength = float64(refChars) / float64(refTokens)
	}
	return s
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
