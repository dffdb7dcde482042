// Package graph derives trust signals from the claim reference graph:
// attestation listings, trust scores and bounded traversals.
package graph

import "strings"

// Polarity is the direction an attesting claim pushes its target.
type Polarity int

const (
	Neutral Polarity = iota
	Endorse
	Dispute
)

// Classifier maps claim types onto a polarity. Matching is case-insensitive.
type Classifier struct {
	endorse map[string]struct{}
	dispute map[string]struct{}
}

// DefaultEndorseTypes and DefaultDisputeTypes seed DefaultClassifier.
var (
	DefaultEndorseTypes = []string{"endorsement", "endorse", "validation", "supports", "agree", "confirm"}
	DefaultDisputeTypes = []string{"dispute", "refute", "disagree", "contradicts", "rebuttal"}
)

// NewClassifier builds a classifier. A type listed in both sets is treated
// as a dispute.
func NewClassifier(endorse, dispute []string) Classifier {
	c := Classifier{
		endorse: make(map[string]struct{}, len(endorse)),
		dispute: make(map[string]struct{}, len(dispute)),
	}
	for _, t := range endorse {
		c.endorse[normalizeType(t)] = struct{}{}
	}
	for _, t := range dispute {
		c.dispute[normalizeType(t)] = struct{}{}
	}
	return c
}

// DefaultClassifier returns the classifier used when none is configured.
func DefaultClassifier() Classifier {
	return NewClassifier(DefaultEndorseTypes, DefaultDisputeTypes)
}

func (c Classifier) Classify(claimType string) Polarity {
	t := normalizeType(claimType)
	if _, ok := c.dispute[t]; ok {
		return Dispute
	}
	if _, ok := c.endorse[t]; ok {
		return Endorse
	}
	return Neutral
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// FlaggedPolicy decides what happens to attestations whose source claim is
// superseded or itself disputed.
type FlaggedPolicy string

const (
	// FlaggedCount counts flagged attestations and reports them in
	// FlaggedCount.
	FlaggedCount FlaggedPolicy = "flag"
	// FlaggedExclude drops flagged attestations from every count.
	FlaggedExclude FlaggedPolicy = "exclude"
)

// ParseFlaggedPolicy accepts "flag" or "exclude"; anything else is false.
func ParseFlaggedPolicy(v string) (FlaggedPolicy, bool) {
	switch FlaggedPolicy(strings.ToLower(v)) {
	case FlaggedCount:
		return FlaggedCount, true
	case FlaggedExclude:
		return FlaggedExclude, true
	default:
		return "", false
	}
}

// Policy configures scoring.
type Policy struct {
	Flagged FlaggedPolicy
	// CountInvalidProofs keeps claims whose proof failed verification in the
	// counts. Unverifiable and unsigned claims always count.
	CountInvalidProofs bool
	Classifier         Classifier
}

// DefaultPolicy flags rather than excludes and ignores invalid proofs.
func DefaultPolicy() Policy {
	return Policy{
		Flagged:    FlaggedCount,
		Classifier: DefaultClassifier(),
	}
}
