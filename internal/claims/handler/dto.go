package handler

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/service"
)

// ClaimView is the public form of a claim revision. ProofValid is null
// when no cryptographic decision exists.
type ClaimView struct {
	URI           string          `json:"uri"`
	Digest        string          `json:"digest"`
	CID           string          `json:"cid,omitempty"`
	Owner         string          `json:"owner"`
	Signer        string          `json:"signer"`
	Subject       string          `json:"subject"`
	ClaimType     string          `json:"claimType"`
	Object        string          `json:"object,omitempty"`
	Statement     string          `json:"statement,omitempty"`
	Source        *models.Source  `json:"source,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	EffectiveDate *time.Time      `json:"effectiveDate,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	Stars         *int            `json:"stars,omitempty"`
	ProofType     string          `json:"proofType,omitempty"`
	ProofValid    *bool           `json:"proofValid"`
	Verdict       string          `json:"verdict"`
	VerdictReason string          `json:"verdictReason,omitempty"`
	Deleted       bool            `json:"deleted"`
	DeletedReason string          `json:"deletedReason,omitempty"`
	SupersededBy  string          `json:"supersededBy,omitempty"`
	IndexedAt     time.Time       `json:"indexedAt"`
	Record        json.RawMessage `json:"record,omitempty"`
}

func toClaimView(c *models.Claim) ClaimView {
	v := ClaimView{
		URI:           c.URI.String(),
		Digest:        c.Digest.String(),
		CID:           c.CommitCID,
		Owner:         c.Owner,
		Signer:        c.Signer,
		Subject:       c.Subject,
		ClaimType:     c.ClaimType,
		Object:        c.Object,
		Statement:     c.Statement,
		Source:        c.Source,
		CreatedAt:     c.CreatedAt,
		EffectiveDate: c.EffectiveDate,
		Confidence:    c.Confidence,
		Stars:         c.Stars,
		ProofValid:    c.ProofValid(),
		Verdict:       string(c.Verdict),
		VerdictReason: string(c.VerdictReason),
		Deleted:       c.Deleted,
		DeletedReason: string(c.DeletedReason),
		SupersededBy:  c.SupersededBy.String(),
		IndexedAt:     c.IndexedAt.UTC(),
		Record:        c.Record,
	}
	if c.Proof != nil {
		v.ProofType = c.Proof.Type
	}
	return v
}

// ListResponse is one page of claims.
type ListResponse struct {
	Claims []ClaimView `json:"claims"`
	Cursor string      `json:"cursor,omitempty"`
}

func toListResponse(p service.Page) ListResponse {
	out := ListResponse{Claims: make([]ClaimView, 0, len(p.Claims))}
	for i := range p.Claims {
		out.Claims = append(out.Claims, toClaimView(&p.Claims[i]))
	}
	if p.Cursor > 0 {
		out.Cursor = strconv.FormatInt(p.Cursor, 10)
	}
	return out
}

// AttestationView is one edge into the target with its source claim.
type AttestationView struct {
	Source    string     `json:"source"`
	ClaimType string     `json:"claimType"`
	Signer    string     `json:"signer"`
	Flagged   bool       `json:"flagged"`
	Retired   bool       `json:"retired,omitempty"`
	Claim     *ClaimView `json:"claim,omitempty"`
}

// AttestationsResponse lists attestations of one target.
type AttestationsResponse struct {
	Target       models.TargetStatus `json:"target"`
	Attestations []AttestationView   `json:"attestations"`
}

func toAttestationsResponse(a models.Attestations) AttestationsResponse {
	out := AttestationsResponse{Target: a.Target, Attestations: make([]AttestationView, 0, len(a.Items))}
	for _, item := range a.Items {
		view := AttestationView{
			Source:    item.Edge.Source.String(),
			ClaimType: item.Edge.ClaimType,
			Signer:    item.Edge.Signer,
			Flagged:   item.Flagged,
			Retired:   item.Edge.Retired,
		}
		if item.Claim != nil {
			c := toClaimView(item.Claim)
			c.Record = nil
			view.Claim = &c
		}
		out.Attestations = append(out.Attestations, view)
	}
	return out
}

// TrustGraphResponse is the bounded traversal result.
type TrustGraphResponse struct {
	Root       string             `json:"root"`
	Depth      int                `json:"depth"`
	Direct     []models.GraphEdge `json:"direct"`
	Transitive []models.GraphEdge `json:"transitive,omitempty"`
	Visited    int                `json:"visited"`
	Truncated  bool               `json:"truncated"`
}

func toTrustGraphResponse(g models.TrustGraph) TrustGraphResponse {
	direct := g.Direct
	if direct == nil {
		direct = []models.GraphEdge{}
	}
	return TrustGraphResponse{
		Root:       g.Root.String(),
		Depth:      g.Depth,
		Direct:     direct,
		Transitive: g.Transitive,
		Visited:    g.Visited,
		Truncated:  g.Truncated,
	}
}
