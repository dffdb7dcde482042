package graph

import (
	"slices"
	"strings"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// Contribution is one attesting claim revision and whether its own locator
// is disputed. Retired contributions come from edges whose source has since
// been deleted or pointed elsewhere.
type Contribution struct {
	Claim    *models.Claim
	Disputed bool
	Retired  bool
}

// eligible reports whether a source revision can contribute at all.
func (p Policy) eligible(c *models.Claim) bool {
	if c == nil || c.Deleted {
		return false
	}
	if c.Verdict == models.VerdictInvalid && !p.CountInvalidProofs {
		return false
	}
	return true
}

// disputes reports whether c counts as a dispute of its target. Used one
// level deep when deciding whether an attester is itself disputed.
func (p Policy) disputes(c *models.Claim) bool {
	return p.eligible(c) && p.Classifier.Classify(c.ClaimType) == Dispute
}

// Flagged reports whether a contribution is flagged under the policy.
func Flagged(c Contribution) bool {
	return c.Claim != nil && (c.Claim.SupersededBy != "" || c.Disputed)
}

// Score aggregates contributions into a trust score. Lazy and incremental
// evaluation both go through here. Eligible contributions are summed in
// source locator order so the weighted score does not depend on input order.
func Score(target models.Locator, contributions []Contribution, p Policy) models.TrustScore {
	score := models.TrustScore{URI: target}
	signers := make(map[string]struct{})
	var weighted float64

	counted := make([]Contribution, 0, len(contributions))
	for _, c := range contributions {
		if !c.Retired && p.eligible(c.Claim) {
			counted = append(counted, c)
		}
	}
	slices.SortFunc(counted, func(a, b Contribution) int {
		return strings.Compare(string(a.Claim.URI), string(b.Claim.URI))
	})

	for _, c := range counted {
		flagged := Flagged(c)
		if flagged && p.Flagged == FlaggedExclude {
			continue
		}
		if flagged {
			score.FlaggedCount++
		}
		signers[c.Claim.Signer] = struct{}{}

		weight := 1.0
		if c.Claim.Confidence != nil {
			weight = *c.Claim.Confidence
		}
		switch p.Classifier.Classify(c.Claim.ClaimType) {
		case Endorse:
			score.EndorsementCount++
			weighted += weight
		case Dispute:
			score.DisputeCount++
			weighted -= weight
		default:
			score.OtherCount++
		}
	}

	score.DistinctSignerCount = len(signers)
	score.WeightedScore = &weighted
	return score
}
