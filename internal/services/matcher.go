package services

import (
	"context"

	"receipt-reconciliation-service/internal/models"
)

// matchRequest is the wire form of a matching call: the two summary
// lists the service reasons over.
type matchRequest struct {
	Movements []models.MovementSummary `json:"movements"`
	Receipts  []models.ReceiptSummary  `json:"receipts"`
}

// MatcherClient calls the external matching service
type MatcherClient struct {
	http *httpClient
}

// NewMatcherClient creates a client for the matching service
func NewMatcherClient(config *ClientConfig) (*MatcherClient, error) {
	hc, err := newHTTPClient(config, "matcher_client")
	if err != nil {
		return nil, err
	}
	return &MatcherClient{http: hc}, nil
}

// Match submits the summaries and returns the raw proposed result. The
// result is untrusted: validation happens downstream in the aggregator.
func (c *MatcherClient) Match(ctx context.Context, movements []models.MovementSummary, receipts []models.ReceiptSummary) (*models.MatchResult, error) {
	request := matchRequest{
		Movements: movements,
		Receipts:  receipts,
	}

	var result models.MatchResult
	if err := c.http.postJSON(ctx, "/match", request, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
