package models

import "time"

// Edge is a derived reference from one claim to another, formed when the
// source claim's subject is the target's locator. Edges are keyed by
// (Source, Target). An edge is retired once the newest revision at Source is
// deleted or references a different target; retired edges stay listed but
// no longer count.
type Edge struct {
	Source       Locator   `json:"source"`
	Target       Locator   `json:"target"`
	SourceDigest Digest    `json:"sourceDigest"`
	ClaimType    string    `json:"claimType"`
	Signer       string    `json:"signer"`
	Seq          int64     `json:"seq"`
	CreatedAt    time.Time `json:"indexedAt"`
	Retired      bool      `json:"retired,omitempty"`
}

// TargetStatus describes the claim an attestation points to.
type TargetStatus struct {
	URI     Locator `json:"uri"`
	Exists  bool    `json:"exists"`
	Deleted bool    `json:"deleted"`
}

// Attestation pairs an edge with the source claim revision that produced it.
type Attestation struct {
	Edge    Edge
	Claim   *Claim
	Flagged bool
}

// Attestations is the ordered set of edges targeting one claim.
type Attestations struct {
	Target TargetStatus
	Items  []Attestation
}

// TrustScore aggregates the attestations targeting one claim.
type TrustScore struct {
	URI                 Locator  `json:"uri"`
	EndorsementCount    int      `json:"endorsementCount"`
	DisputeCount        int      `json:"disputeCount"`
	OtherCount          int      `json:"otherCount"`
	DistinctSignerCount int      `json:"distinctSignerCount"`
	FlaggedCount        int      `json:"flaggedCount"`
	WeightedScore       *float64 `json:"weightedScore,omitempty"`
}

// GraphEdge is an edge reached during trust-graph traversal.
type GraphEdge struct {
	Edge
	Depth         int  `json:"depth"`
	SourceDeleted bool `json:"sourceDeleted"`
}

// TrustGraph is the bounded result of a traversal rooted at one claim.
type TrustGraph struct {
	Root       Locator     `json:"root"`
	Depth      int         `json:"depth"`
	Direct     []GraphEdge `json:"direct"`
	Transitive []GraphEdge `json:"transitive,omitempty"`
	Visited    int         `json:"visited"`
	Truncated  bool        `json:"truncated"`
}
