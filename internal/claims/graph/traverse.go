package graph

import (
	"context"
	"fmt"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// Limits bound a trust-graph traversal. Hitting any of them sets Truncated
// on the result.
type Limits struct {
	MaxDepth  int
	MaxNodes  int
	MaxFanout int
}

// DefaultLimits returns the caps used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 5, MaxNodes: 500, MaxFanout: 100}
}

// TrustGraph walks incoming edges breadth-first from root. Depth 1 returns
// the direct attestations; deeper levels follow attesters of attesters.
// Every locator is expanded at most once, so cycles terminate.
func (e *Engine) TrustGraph(ctx context.Context, root models.Locator, depth int) (models.TrustGraph, error) {
	limits := e.limits
	out := models.TrustGraph{Root: root, Direct: []models.GraphEdge{}}

	if depth < 1 {
		depth = 1
	}
	if depth > limits.MaxDepth {
		depth = limits.MaxDepth
		out.Truncated = true
	}
	out.Depth = depth

	visited := map[models.Locator]struct{}{root: {}}
	frontier := []models.Locator{root}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []models.Locator
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			edges, err := e.store.EdgesTo(ctx, node)
			if err != nil {
				return out, fmt.Errorf("load edges to %s: %w", node, err)
			}
			if len(edges) > limits.MaxFanout {
				edges = edges[:limits.MaxFanout]
				out.Truncated = true
			}

			for _, edge := range edges {
				src, err := e.revision(ctx, edge)
				if err != nil {
					return out, err
				}
				ge := models.GraphEdge{
					Edge:          edge,
					Depth:         level,
					SourceDeleted: src != nil && src.Deleted,
				}
				if level == 1 {
					out.Direct = append(out.Direct, ge)
				} else {
					out.Transitive = append(out.Transitive, ge)
				}

				if _, seen := visited[edge.Source]; seen {
					continue
				}
				if len(visited) >= limits.MaxNodes {
					out.Truncated = true
					continue
				}
				visited[edge.Source] = struct{}{}
				next = append(next, edge.Source)
			}
		}
		frontier = next
	}

	out.Visited = len(visited)
	return out, nil
}
