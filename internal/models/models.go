// Package models defines the core domain records shared by every
// pipeline stage: normalized bank movements, receipt lifecycle state,
// annotations produced by the external service, and match results.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement represents a single normalized bank-statement line item.
// Index is the stable identity used by all downstream references; it is
// assigned by output position after zero-amount rows are filtered and is
// never reused or reordered within a session.
type Movement struct {
	Index   int             `json:"index"`
	Date    time.Time       `json:"date,omitempty"`
	RawDate string          `json:"rawDate,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Concept string          `json:"concept"`
	Raw     []string        `json:"-"`
}

// Validate performs basic validation on the Movement
func (m *Movement) Validate() error {
	if m.Index < 0 {
		return fmt.Errorf("movement index cannot be negative")
	}

	if m.Amount.IsZero() {
		return fmt.Errorf("movement amount cannot be zero")
	}

	return nil
}

// DisplayDate returns the canonical display form of the movement date:
// 2006-01-02 when the date was parsed, the raw cell text otherwise.
func (m *Movement) DisplayDate() string {
	if !m.Date.IsZero() {
		return m.Date.Format("2006-01-02")
	}
	return m.RawDate
}

// String returns a string representation of the Movement
func (m *Movement) String() string {
	return fmt.Sprintf("Movement{Index: %d, Date: %s, Amount: %s, Concept: %s}",
		m.Index, m.DisplayDate(), m.Amount.String(), m.Concept)
}

// ReceiptStatus represents the lifecycle state of a receipt
type ReceiptStatus string

const (
	StatusPending    ReceiptStatus = "pending"
	StatusProcessing ReceiptStatus = "processing"
	StatusDone       ReceiptStatus = "done"
	StatusError      ReceiptStatus = "error"
)

// IsValid checks if the receipt status is a known state
func (s ReceiptStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final for the session
func (s ReceiptStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// canTransitionTo encodes the forward-only lifecycle:
// pending -> processing -> done|error, with no way back.
func (s ReceiptStatus) canTransitionTo(next ReceiptStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

// Receipt represents a user-submitted proof-of-purchase file together
// with its annotation lifecycle. ID is a fresh identity per intake run;
// re-submitting the same filename never resurrects an old receipt.
type Receipt struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	MediaType   string            `json:"mediaType"`
	Status      ReceiptStatus     `json:"status"`
	Annotation  *AnnotationResult `json:"annotation,omitempty"`
	PreviewPath string            `json:"-"`
}

// NewReceipt creates a pending Receipt for an intake file
func NewReceipt(name, mediaType string) *Receipt {
	return &Receipt{
		ID:        uuid.NewString(),
		Name:      name,
		MediaType: mediaType,
		Status:    StatusPending,
	}
}

// Transition moves the receipt to the next lifecycle state. Backward
// transitions and transitions out of a terminal state are rejected.
func (r *Receipt) Transition(next ReceiptStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid receipt status: %s", next)
	}

	if !r.Status.canTransitionTo(next) {
		return fmt.Errorf("illegal receipt transition %s -> %s for %s", r.Status, next, r.Name)
	}

	r.Status = next
	return nil
}

// CompleteWith records the annotation and moves the receipt to its
// terminal state: done when the annotation is usable, error otherwise.
func (r *Receipt) CompleteWith(annotation *AnnotationResult) error {
	next := StatusDone
	if annotation == nil || annotation.Error != "" {
		next = StatusError
	}

	if err := r.Transition(next); err != nil {
		return err
	}

	r.Annotation = annotation
	return nil
}

// IsUsable reports whether the receipt can participate in matching
func (r *Receipt) IsUsable() bool {
	return r.Status == StatusDone && r.Annotation != nil && r.Annotation.Error == ""
}

// String returns a string representation of the Receipt
func (r *Receipt) String() string {
	return fmt.Sprintf("Receipt{Name: %s, Status: %s}", r.Name, r.Status)
}

// ReceiptCategory is the coarse spend category assigned by the annotation service
type ReceiptCategory string

const (
	CategoryGroceries     ReceiptCategory = "groceries"
	CategoryRestaurants   ReceiptCategory = "restaurants"
	CategoryTransport     ReceiptCategory = "transport"
	CategoryUtilities     ReceiptCategory = "utilities"
	CategoryHealth        ReceiptCategory = "health"
	CategoryEntertainment ReceiptCategory = "entertainment"
	CategoryOther         ReceiptCategory = "other"
)

// AnnotationResult holds the structured fields extracted from a receipt
// by the external annotation service. A populated Error marks the receipt
// as unusable for matching though still displayable.
type AnnotationResult struct {
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Date       string           `json:"date,omitempty"`
	Merchant   string           `json:"merchant,omitempty"`
	Concept    string           `json:"concept,omitempty"`
	Category   ReceiptCategory  `json:"category,omitempty"`
	Confidence int              `json:"confidence,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// UnmarshalJSON implements custom JSON unmarshaling so that the amount
// field tolerates both string and numeric encodings.
func (a *AnnotationResult) UnmarshalJSON(data []byte) error {
	type Alias AnnotationResult
	aux := &struct {
		Amount json.RawMessage `json:"amount,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Amount) == 0 || string(aux.Amount) == "null" {
		return nil
	}

	raw := strings.Trim(string(aux.Amount), `"`)
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid annotation amount %q: %w", raw, err)
	}
	a.Amount = &amount

	return nil
}

// MovementSummary is the index-labeled movement view sent to the Matcher
type MovementSummary struct {
	Index   int    `json:"index"`
	Date    string `json:"date,omitempty"`
	Amount  string `json:"amount"`
	Concept string `json:"concept,omitempty"`
}

// ReceiptSummary is the index-labeled receipt view sent to the Matcher
type ReceiptSummary struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Date     string `json:"date,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Merchant string `json:"merchant,omitempty"`
	Concept  string `json:"concept,omitempty"`
}

// MatchEntry is an asserted correspondence between one movement and one
// receipt, with a confidence score and rationale.
type MatchEntry struct {
	MovementIndex int    `json:"movementIndex"`
	ReceiptIndex  int    `json:"receiptIndex"`
	Score         int    `json:"score"`
	Reason        string `json:"reason"`
}

// Validate performs structural validation on the MatchEntry
func (e *MatchEntry) Validate() error {
	if e.MovementIndex < 0 {
		return fmt.Errorf("movement index cannot be negative: %d", e.MovementIndex)
	}

	if e.ReceiptIndex < 0 {
		return fmt.Errorf("receipt index cannot be negative: %d", e.ReceiptIndex)
	}

	if e.Score < 0 || e.Score > 100 {
		return fmt.Errorf("score must be between 0 and 100: %d", e.Score)
	}

	return nil
}

// MatchResult is the validated outcome of a reconciliation run. The
// three index sets partition the full movement index space exactly once,
// and likewise for done receipts; the unmatched sets are always derived
// locally from the validated matches, never taken from the collaborator.
type MatchResult struct {
	Matches            []MatchEntry `json:"matches"`
	UnmatchedMovements []int        `json:"unmatchedMovements"`
	UnmatchedReceipts  []int        `json:"unmatchedReceipts"`
	Narrative          string       `json:"narrative,omitempty"`
}

// Stats holds the derived reconciliation statistics. Percentage is
// round(matched/total*100), defined as 0 when there are no movements.
type Stats struct {
	TotalMovements int `json:"totalMovements"`
	MatchedCount   int `json:"matchedCount"`
	Percentage     int `json:"percentage"`
}

// ComputeStats derives the reconciliation statistics from a result
func ComputeStats(result *MatchResult, totalMovements int) Stats {
	stats := Stats{
		TotalMovements: totalMovements,
	}
	if result != nil {
		stats.MatchedCount = len(result.Matches)
	}

	if totalMovements > 0 {
		stats.Percentage = int(float64(stats.MatchedCount)/float64(totalMovements)*100 + 0.5)
	}

	return stats
}

// Utility functions for type conversion and validation

// ParseAmount parses a decimal amount from a spreadsheet cell. A comma is
// treated as the decimal separator (European convention); currency
// symbols and grouping dots are stripped before parsing.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, symbol := range []string{"€", "$", "£", " "} {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = strings.ReplaceAll(s, " ", "")

	// Parenthesized amounts are negative in many bank exports
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	if strings.Contains(s, ",") {
		// Comma is the decimal separator; any dots are grouping marks.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	if negative {
		d = d.Neg()
	}

	return d, nil
}

// ParseDateWithFormats attempts to parse a date from string using the
// layouts commonly found in bank exports.
func ParseDateWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02/01/2006",
		"2/1/2006",
		"02-01-2006",
		"2006/01/02",
		"Jan 2, 2006",
		"January 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
