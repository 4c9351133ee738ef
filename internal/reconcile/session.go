package reconcile

import (
	"context"
	"sync"

	"receipt-reconciliation-service/internal/intake"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

// Session owns the working state of one reconciliation run: the
// normalized movements, the receipt pipeline, and the aggregator. All
// index references in results are only meaningful within the session
// that produced them; Reset invalidates everything at once.
type Session struct {
	pipeline   *intake.ReceiptIntakePipeline
	aggregator *ReconciliationAggregator
	logger     logger.Logger

	mu        sync.Mutex
	movements []models.Movement
}

// NewSession assembles a session from its collaborating components
func NewSession(pipeline *intake.ReceiptIntakePipeline, aggregator *ReconciliationAggregator) *Session {
	return &Session{
		pipeline:   pipeline,
		aggregator: aggregator,
		logger:     logger.GetGlobalLogger().WithComponent("session"),
	}
}

// SetMovements replaces the session's movement list. Loading a new
// statement discards any previous matching result implicitly: indices
// from older results no longer resolve.
func (s *Session) SetMovements(movements []models.Movement) {
	s.mu.Lock()
	s.movements = movements
	s.mu.Unlock()

	s.logger.WithField("movements", len(movements)).Info("Loaded movements into session")
}

// Movements returns the session's movements in index order
func (s *Session) Movements() []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// SubmitReceipts admits a batch of receipt files into the pipeline
func (s *Session) SubmitReceipts(files []intake.IntakeFile) ([]*models.Receipt, error) {
	return s.pipeline.Intake(files)
}

// AnnotateReceipts processes all pending receipts to a terminal state
func (s *Session) AnnotateReceipts(ctx context.Context) error {
	return s.pipeline.ProcessAll(ctx)
}

// Receipts returns all receipts in submission order
func (s *Session) Receipts() []*models.Receipt {
	return s.pipeline.Receipts()
}

// UsableReceipts returns the receipts that can participate in matching,
// in the order that defines the receipt index space.
func (s *Session) UsableReceipts() []*models.Receipt {
	return usableReceipts(s.pipeline.Receipts())
}

// Reconcile runs one matching pass over the current session state
func (s *Session) Reconcile(ctx context.Context) (*models.MatchResult, models.Stats, error) {
	return s.aggregator.Reconcile(ctx, s.Movements(), s.Receipts())
}

// LastResult returns the most recent validated reconciliation result
func (s *Session) LastResult() (*models.MatchResult, models.Stats) {
	return s.aggregator.LastResult()
}

// Reset clears the session: movements, receipts, and their previews
func (s *Session) Reset() {
	s.mu.Lock()
	s.movements = nil
	s.mu.Unlock()

	s.pipeline.Reset()
	s.logger.Info("Session reset")
}
