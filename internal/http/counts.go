package http

import (
	"context"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// CountPoints tallies the stored integration points by status.
func CountPoints(ctx context.Context, eng Engine) (PointCounts, error) {
	points, err := eng.ListPoints(ctx, "")
	if err != nil {
		return PointCounts{}, err
	}
	var c PointCounts
	for _, p := range points {
		c.Total++
		switch p.Status {
		case knowledge.StatusProposed:
			c.Proposed++
		case knowledge.StatusAccepted:
			c.Accepted++
		case knowledge.StatusDecided:
			c.Decided++
		case knowledge.StatusApplied:
			c.Applied++
		case knowledge.StatusRejected:
			c.Rejected++
		}
	}
	return c, nil
}
