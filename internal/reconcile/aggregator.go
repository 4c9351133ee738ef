// Package reconcile validates and consolidates match assertions from
// the external matching service into a trustworthy reconciliation
// result. The matcher is treated as untrusted input: every entry is
// re-checked locally and the unmatched sets are always recomputed here,
// never taken from the service.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Matcher proposes movement/receipt correspondences. The returned
// result is raw service output and is validated before use.
type Matcher interface {
	Match(ctx context.Context, movements []models.MovementSummary, receipts []models.ReceiptSummary) (*models.MatchResult, error)
}

// ReconciliationAggregator runs matching over a session's movements and
// annotated receipts and keeps the last validated result.
type ReconciliationAggregator struct {
	matcher Matcher
	logger  logger.Logger

	mu         sync.Mutex
	lastResult *models.MatchResult
	lastStats  models.Stats
}

// NewReconciliationAggregator creates an aggregator around the matcher
func NewReconciliationAggregator(matcher Matcher) (*ReconciliationAggregator, error) {
	if matcher == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matcher", nil)
	}

	return &ReconciliationAggregator{
		matcher: matcher,
		logger:  logger.GetGlobalLogger().WithComponent("aggregator"),
	}, nil
}

// Reconcile runs one matching pass. It requires at least one receipt
// with a completed annotation; receipts still pending or errored do not
// count. On transport failure the previous result is retained and the
// error is returned.
func (a *ReconciliationAggregator) Reconcile(ctx context.Context, movements []models.Movement, receipts []*models.Receipt) (*models.MatchResult, models.Stats, error) {
	usable := usableReceipts(receipts)
	if len(usable) == 0 {
		return nil, models.Stats{}, errors.NotReadyError("reconciliation")
	}

	movementSummaries := buildMovementSummaries(movements)
	receiptSummaries := buildReceiptSummaries(usable)

	a.logger.WithFields(logger.Fields{
		"movements": len(movementSummaries),
		"receipts":  len(receiptSummaries),
	}).Info("Requesting matches")

	raw, err := a.matcher.Match(ctx, movementSummaries, receiptSummaries)
	if err != nil {
		a.logger.WithError(err).Warn("Matching call failed, keeping previous result")
		return nil, models.Stats{}, errors.WrapIfNeeded(err, errors.CategoryTransport, errors.CodeConnectionFailed, "matching service call failed")
	}

	result := a.consolidate(raw, len(movements), len(usable))
	stats := models.ComputeStats(result, len(movements))

	a.mu.Lock()
	a.lastResult = result
	a.lastStats = stats
	a.mu.Unlock()

	a.logger.WithFields(logger.Fields{
		"matched":             stats.MatchedCount,
		"total_movements":     stats.TotalMovements,
		"percentage":          stats.Percentage,
		"unmatched_movements": len(result.UnmatchedMovements),
		"unmatched_receipts":  len(result.UnmatchedReceipts),
	}).Info("Reconciliation complete")

	return result, stats, nil
}

// LastResult returns the most recent validated result and its stats,
// or nil when no run has succeeded yet.
func (a *ReconciliationAggregator) LastResult() (*models.MatchResult, models.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult, a.lastStats
}

// consolidate validates the raw matcher output entry by entry. Entries
// that are malformed, reference out-of-range indices, or claim an index
// already matched by an earlier entry are discarded with a warning; the
// survivors define the unmatched sets.
func (a *ReconciliationAggregator) consolidate(raw *models.MatchResult, movementCount, receiptCount int) *models.MatchResult {
	result := &models.MatchResult{
		Matches:            []models.MatchEntry{},
		UnmatchedMovements: []int{},
		UnmatchedReceipts:  []int{},
	}
	if raw == nil {
		for i := 0; i < movementCount; i++ {
			result.UnmatchedMovements = append(result.UnmatchedMovements, i)
		}
		for i := 0; i < receiptCount; i++ {
			result.UnmatchedReceipts = append(result.UnmatchedReceipts, i)
		}
		return result
	}

	result.Narrative = raw.Narrative

	matchedMovements := make(map[int]bool)
	matchedReceipts := make(map[int]bool)

	for _, entry := range raw.Matches {
		if err := a.validateEntry(entry, movementCount, receiptCount, matchedMovements, matchedReceipts); err != nil {
			a.logger.WithError(err).Warn("Discarding match entry")
			continue
		}

		matchedMovements[entry.MovementIndex] = true
		matchedReceipts[entry.ReceiptIndex] = true
		result.Matches = append(result.Matches, entry)
	}

	for i := 0; i < movementCount; i++ {
		if !matchedMovements[i] {
			result.UnmatchedMovements = append(result.UnmatchedMovements, i)
		}
	}
	for i := 0; i < receiptCount; i++ {
		if !matchedReceipts[i] {
			result.UnmatchedReceipts = append(result.UnmatchedReceipts, i)
		}
	}

	sort.Ints(result.UnmatchedMovements)
	sort.Ints(result.UnmatchedReceipts)

	return result
}

func (a *ReconciliationAggregator) validateEntry(entry models.MatchEntry, movementCount, receiptCount int, matchedMovements, matchedReceipts map[int]bool) error {
	if err := entry.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidEntry, "match", entry, err)
	}

	if entry.MovementIndex >= movementCount {
		return errors.ValidationError(errors.CodeIndexOutOfRange, "movementIndex", entry.MovementIndex, nil)
	}
	if entry.ReceiptIndex >= receiptCount {
		return errors.ValidationError(errors.CodeIndexOutOfRange, "receiptIndex", entry.ReceiptIndex, nil)
	}

	if matchedMovements[entry.MovementIndex] {
		return errors.ValidationError(errors.CodeDuplicateClaim, "movementIndex", entry.MovementIndex, nil)
	}
	if matchedReceipts[entry.ReceiptIndex] {
		return errors.ValidationError(errors.CodeDuplicateClaim, "receiptIndex", entry.ReceiptIndex, nil)
	}

	return nil
}

// usableReceipts filters to receipts whose annotation completed, in
// submission order. Their position in the returned slice is the receipt
// index space used for matching.
func usableReceipts(receipts []*models.Receipt) []*models.Receipt {
	var usable []*models.Receipt
	for _, r := range receipts {
		if r.IsUsable() {
			usable = append(usable, r)
		}
	}
	return usable
}

func buildMovementSummaries(movements []models.Movement) []models.MovementSummary {
	summaries := make([]models.MovementSummary, 0, len(movements))
	for _, m := range movements {
		summaries = append(summaries, models.MovementSummary{
			Index:   m.Index,
			Date:    m.DisplayDate(),
			Amount:  m.Amount.String(),
			Concept: m.Concept,
		})
	}
	return summaries
}

func buildReceiptSummaries(usable []*models.Receipt) []models.ReceiptSummary {
	summaries := make([]models.ReceiptSummary, 0, len(usable))
	for i, r := range usable {
		summary := models.ReceiptSummary{
			Index:    i,
			Filename: r.Name,
		}
		if r.Annotation != nil {
			summary.Date = r.Annotation.Date
			summary.Merchant = r.Annotation.Merchant
			summary.Concept = r.Annotation.Concept
			if r.Annotation.Amount != nil {
				summary.Amount = r.Annotation.Amount.String()
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
