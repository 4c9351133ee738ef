package reconcile

import (
	"context"
	"testing"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// fakeMatcher returns a canned raw result and records what it was sent
type fakeMatcher struct {
	result    *models.MatchResult
	err       error
	movements []models.MovementSummary
	receipts  []models.ReceiptSummary
	calls     int
}

func (f *fakeMatcher) Match(ctx context.Context, movements []models.MovementSummary, receipts []models.ReceiptSummary) (*models.MatchResult, error) {
	f.calls++
	f.movements = movements
	f.receipts = receipts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func doneReceipt(name string, amount float64) *models.Receipt {
	r := models.NewReceipt(name, "image/jpeg")
	if err := r.Transition(models.StatusProcessing); err != nil {
		panic(err)
	}
	d := decimal.NewFromFloat(amount)
	if err := r.CompleteWith(&models.AnnotationResult{Amount: &d, Merchant: "SHOP"}); err != nil {
		panic(err)
	}
	return r
}

func erroredReceipt(name string) *models.Receipt {
	r := models.NewReceipt(name, "image/jpeg")
	if err := r.Transition(models.StatusProcessing); err != nil {
		panic(err)
	}
	if err := r.CompleteWith(&models.AnnotationResult{Error: "unreadable"}); err != nil {
		panic(err)
	}
	return r
}

func testMovements(amounts ...float64) []models.Movement {
	movements := make([]models.Movement, len(amounts))
	for i, amount := range amounts {
		movements[i] = models.Movement{
			Index:   i,
			Amount:  decimal.NewFromFloat(amount),
			Concept: "MOVEMENT",
		}
	}
	return movements
}

func TestReconcileHappyPath(t *testing.T) {
	matcher := &fakeMatcher{
		result: &models.MatchResult{
			Matches:   []models.MatchEntry{{MovementIndex: 0, ReceiptIndex: 0, Score: 95, Reason: "amount match"}},
			Narrative: "one clear match on amount",
		},
	}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	movements := testMovements(12.50, 30.00)
	receipts := []*models.Receipt{doneReceipt("coffee.jpg", 12.50)}

	result, stats, err := agg.Reconcile(context.Background(), movements, receipts)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if len(result.UnmatchedMovements) != 1 || result.UnmatchedMovements[0] != 1 {
		t.Errorf("Expected unmatched movements [1], got %v", result.UnmatchedMovements)
	}
	if len(result.UnmatchedReceipts) != 0 {
		t.Errorf("Expected no unmatched receipts, got %v", result.UnmatchedReceipts)
	}
	if result.Narrative != "one clear match on amount" {
		t.Errorf("Expected narrative passthrough, got %q", result.Narrative)
	}

	if stats.TotalMovements != 2 || stats.MatchedCount != 1 || stats.Percentage != 50 {
		t.Errorf("Expected stats 1/2 (50%%), got %+v", stats)
	}

	if matcher.calls != 1 {
		t.Errorf("Expected exactly one matcher call, got %d", matcher.calls)
	}
}

func TestReconcileNotReady(t *testing.T) {
	agg, err := NewReconciliationAggregator(&fakeMatcher{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		receipts []*models.Receipt
	}{
		{"no receipts", nil},
		{"only pending", []*models.Receipt{models.NewReceipt("a.jpg", "image/jpeg")}},
		{"only errored", []*models.Receipt{erroredReceipt("bad.jpg")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := agg.Reconcile(context.Background(), testMovements(10), tt.receipts)
			if err == nil {
				t.Fatal("Expected not-ready error")
			}
			if !errors.IsCategory(err, errors.CategoryNotReady) {
				t.Errorf("Expected not_ready category, got %v", err)
			}
		})
	}
}

func TestReconcileExcludesUnusableReceiptsFromIndexSpace(t *testing.T) {
	matcher := &fakeMatcher{result: &models.MatchResult{}}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	receipts := []*models.Receipt{
		erroredReceipt("bad.jpg"),
		doneReceipt("good.jpg", 12.50),
		models.NewReceipt("pending.jpg", "image/jpeg"),
	}

	if _, _, err := agg.Reconcile(context.Background(), testMovements(12.50), receipts); err != nil {
		t.Fatal(err)
	}

	if len(matcher.receipts) != 1 {
		t.Fatalf("Expected 1 receipt summary, got %d", len(matcher.receipts))
	}
	// The usable receipt gets index 0 in the matching index space.
	if matcher.receipts[0].Index != 0 || matcher.receipts[0].Filename != "good.jpg" {
		t.Errorf("Unexpected receipt summary: %+v", matcher.receipts[0])
	}
	if matcher.receipts[0].Amount != "12.5" {
		t.Errorf("Expected annotation amount in summary, got %q", matcher.receipts[0].Amount)
	}
}

func TestReconcileDiscardsOutOfRangeEntries(t *testing.T) {
	matcher := &fakeMatcher{
		result: &models.MatchResult{
			Matches: []models.MatchEntry{
				{MovementIndex: 0, ReceiptIndex: 0, Score: 90},
				{MovementIndex: 5, ReceiptIndex: 0, Score: 90},
				{MovementIndex: 1, ReceiptIndex: 3, Score: 90},
			},
		},
	}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	result, stats, err := agg.Reconcile(context.Background(), testMovements(10, 20), []*models.Receipt{doneReceipt("a.jpg", 10)})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 surviving match, got %d", len(result.Matches))
	}
	if stats.MatchedCount != 1 {
		t.Errorf("Expected stats over surviving matches only, got %d", stats.MatchedCount)
	}
	if len(result.UnmatchedMovements) != 1 || result.UnmatchedMovements[0] != 1 {
		t.Errorf("Expected unmatched movements [1], got %v", result.UnmatchedMovements)
	}
}

func TestReconcileDiscardsDuplicateClaims(t *testing.T) {
	matcher := &fakeMatcher{
		result: &models.MatchResult{
			Matches: []models.MatchEntry{
				{MovementIndex: 0, ReceiptIndex: 0, Score: 90},
				{MovementIndex: 0, ReceiptIndex: 1, Score: 85},
				{MovementIndex: 1, ReceiptIndex: 0, Score: 80},
			},
		},
	}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	receipts := []*models.Receipt{doneReceipt("a.jpg", 10), doneReceipt("b.jpg", 20)}
	result, _, err := agg.Reconcile(context.Background(), testMovements(10, 20), receipts)
	if err != nil {
		t.Fatal(err)
	}

	// First claim wins; later entries reusing either index are dropped.
	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 surviving match, got %d", len(result.Matches))
	}
	if result.Matches[0].ReceiptIndex != 0 || result.Matches[0].MovementIndex != 0 {
		t.Errorf("Expected first entry to survive, got %+v", result.Matches[0])
	}
	if len(result.UnmatchedMovements) != 1 || result.UnmatchedMovements[0] != 1 {
		t.Errorf("Expected unmatched movements [1], got %v", result.UnmatchedMovements)
	}
	if len(result.UnmatchedReceipts) != 1 || result.UnmatchedReceipts[0] != 1 {
		t.Errorf("Expected unmatched receipts [1], got %v", result.UnmatchedReceipts)
	}
}

func TestReconcileIgnoresServiceUnmatchedSets(t *testing.T) {
	matcher := &fakeMatcher{
		result: &models.MatchResult{
			Matches:            []models.MatchEntry{{MovementIndex: 0, ReceiptIndex: 0, Score: 90}},
			UnmatchedMovements: []int{0, 1, 99},
			UnmatchedReceipts:  []int{42},
		},
	}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	result, _, err := agg.Reconcile(context.Background(), testMovements(10, 20), []*models.Receipt{doneReceipt("a.jpg", 10)})
	if err != nil {
		t.Fatal(err)
	}

	// The unmatched sets are derived locally, whatever the service sent.
	if len(result.UnmatchedMovements) != 1 || result.UnmatchedMovements[0] != 1 {
		t.Errorf("Expected recomputed unmatched movements [1], got %v", result.UnmatchedMovements)
	}
	if len(result.UnmatchedReceipts) != 0 {
		t.Errorf("Expected recomputed unmatched receipts [], got %v", result.UnmatchedReceipts)
	}
}

func TestReconcileTransportFailureKeepsPreviousResult(t *testing.T) {
	matcher := &fakeMatcher{
		result: &models.MatchResult{
			Matches: []models.MatchEntry{{MovementIndex: 0, ReceiptIndex: 0, Score: 90}},
		},
	}
	agg, err := NewReconciliationAggregator(matcher)
	if err != nil {
		t.Fatal(err)
	}

	movements := testMovements(10)
	receipts := []*models.Receipt{doneReceipt("a.jpg", 10)}

	if _, _, err := agg.Reconcile(context.Background(), movements, receipts); err != nil {
		t.Fatal(err)
	}

	matcher.err = errors.TransportError(errors.CodeTimeout, "matcher", nil)
	_, _, err = agg.Reconcile(context.Background(), movements, receipts)
	if err == nil {
		t.Fatal("Expected transport error")
	}
	if !errors.IsCategory(err, errors.CategoryTransport) {
		t.Errorf("Expected transport category, got %v", err)
	}

	last, stats := agg.LastResult()
	if last == nil || len(last.Matches) != 1 {
		t.Error("Expected previous result to be retained after failure")
	}
	if stats.MatchedCount != 1 {
		t.Errorf("Expected previous stats retained, got %+v", stats)
	}
}

func TestReconcileNilRawResult(t *testing.T) {
	agg, err := NewReconciliationAggregator(&fakeMatcher{result: nil})
	if err != nil {
		t.Fatal(err)
	}

	result, stats, err := agg.Reconcile(context.Background(), testMovements(10, 20), []*models.Receipt{doneReceipt("a.jpg", 10)})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(result.Matches))
	}
	if len(result.UnmatchedMovements) != 2 || len(result.UnmatchedReceipts) != 1 {
		t.Errorf("Expected everything unmatched, got %v / %v", result.UnmatchedMovements, result.UnmatchedReceipts)
	}
	if stats.Percentage != 0 {
		t.Errorf("Expected 0%%, got %d", stats.Percentage)
	}
}

func TestAggregatorRequiresMatcher(t *testing.T) {
	if _, err := NewReconciliationAggregator(nil); err == nil {
		t.Error("Expected error for nil matcher")
	}
}
