// Package mapping assigns semantic roles (date, amount, concept) to the
// columns of an ingested table and converts its rows into normalized
// movement records. Role detection is a heuristic over header text and
// is always overridable: the produced Mapping is plain data that a
// caller can correct before applying it.
package mapping

import (
	"strings"
	"unicode"

	"receipt-reconciliation-service/internal/ingest"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/schollz/closestmatch"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Role identifies the semantic meaning of a mapped column
type Role string

const (
	RoleDate    Role = "date"
	RoleAmount  Role = "amount"
	RoleConcept Role = "concept"
)

// Unmapped marks a role with no assigned column
const Unmapped = -1

// Mapping records which column index serves each role. A role maps to at
// most one column; Unmapped means the role has no column.
type Mapping struct {
	DateColumn    int `json:"dateColumn"`
	AmountColumn  int `json:"amountColumn"`
	ConceptColumn int `json:"conceptColumn"`
}

// NewMapping returns a Mapping with every role unassigned
func NewMapping() Mapping {
	return Mapping{
		DateColumn:    Unmapped,
		AmountColumn:  Unmapped,
		ConceptColumn: Unmapped,
	}
}

// Validate checks that the mapping can produce movements. Only the
// amount role is mandatory; date and concept degrade gracefully.
func (m Mapping) Validate() error {
	if m.AmountColumn == Unmapped {
		return errors.ConfigurationError(errors.CodeMissingMapping, "amount", nil)
	}
	return nil
}

// Column returns the column index assigned to the role
func (m Mapping) Column(role Role) int {
	switch role {
	case RoleDate:
		return m.DateColumn
	case RoleAmount:
		return m.AmountColumn
	case RoleConcept:
		return m.ConceptColumn
	default:
		return Unmapped
	}
}

// roleVocabularies lists header keywords per role, most specific first.
// Matching is on normalized header text, so accents and case do not
// matter: "Fecha Operación" matches "fecha".
var roleVocabularies = map[Role][]string{
	RoleDate:    {"fecha", "date", "data", "datum", "dia"},
	RoleAmount:  {"importe", "amount", "monto", "cantidad", "valor", "value", "debit", "credit", "cargo", "abono"},
	RoleConcept: {"concepto", "concept", "descripcion", "description", "detalle", "details", "merchant", "comercio", "memo", "narrative"},
}

// detection order: amount first so that a header like "importe fecha
// valor" cannot steal the amount column for the date role
var roleOrder = []Role{RoleAmount, RoleDate, RoleConcept}

// MapperConfig holds configuration for column role detection
type MapperConfig struct {
	// FuzzyThreshold enables the closest-match fallback for headers with
	// no direct keyword hit; 0 disables fuzzy matching entirely
	FuzzyThreshold int
}

// DefaultMapperConfig returns a configuration with sensible defaults
func DefaultMapperConfig() *MapperConfig {
	return &MapperConfig{
		FuzzyThreshold: 70,
	}
}

// ColumnMapper detects column roles and converts table rows into movements
type ColumnMapper struct {
	config *MapperConfig
	logger logger.Logger
}

// NewColumnMapper creates a new ColumnMapper with the given configuration
func NewColumnMapper(config *MapperConfig) *ColumnMapper {
	if config == nil {
		config = DefaultMapperConfig()
	}

	return &ColumnMapper{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("column_mapper"),
	}
}

// DetectRoles assigns a column to each role by scanning the headers.
// For each role the first header containing a vocabulary keyword wins;
// a column already claimed by an earlier role is skipped. Headers with
// no direct hit go through a fuzzy pass as a last resort.
func (cm *ColumnMapper) DetectRoles(headers []string) Mapping {
	mapping := NewMapping()
	claimed := make(map[int]bool)

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}

	for _, role := range roleOrder {
		col := cm.findByKeyword(normalized, roleVocabularies[role], claimed)
		if col == Unmapped && cm.config.FuzzyThreshold > 0 {
			col = cm.findByFuzzy(normalized, roleVocabularies[role], claimed)
		}
		if col == Unmapped {
			continue
		}

		claimed[col] = true
		cm.assign(&mapping, role, col)
	}

	cm.logger.WithFields(logger.Fields{
		"date_column":    mapping.DateColumn,
		"amount_column":  mapping.AmountColumn,
		"concept_column": mapping.ConceptColumn,
	}).Debug("Detected column roles")

	return mapping
}

// findByKeyword returns the first unclaimed column whose normalized
// header contains any of the keywords. Column position beats keyword
// priority: an earlier column matching any vocabulary word wins over a
// later column matching a more specific one.
func (cm *ColumnMapper) findByKeyword(headers []string, keywords []string, claimed map[int]bool) int {
	for col, header := range headers {
		if claimed[col] || header == "" {
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(header, NormalizeHeader(keyword)) {
				return col
			}
		}
	}
	return Unmapped
}

// findByFuzzy matches headers against the role vocabulary with a
// bag-of-substrings similarity, catching near-misses like truncated or
// misspelled export headers.
func (cm *ColumnMapper) findByFuzzy(headers []string, keywords []string, claimed map[int]bool) int {
	vocabulary := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		vocabulary = append(vocabulary, NormalizeHeader(keyword))
	}

	cmatch := closestmatch.New(vocabulary, []int{2, 3})

	for col, header := range headers {
		if claimed[col] || header == "" {
			continue
		}
		best := cmatch.Closest(header)
		if best == "" {
			continue
		}
		if similarity(header, best) >= cm.config.FuzzyThreshold {
			cm.logger.WithFields(logger.Fields{
				"header":  header,
				"keyword": best,
				"column":  col,
			}).Debug("Fuzzy role match")
			return col
		}
	}
	return Unmapped
}

func (cm *ColumnMapper) assign(mapping *Mapping, role Role, col int) {
	switch role {
	case RoleDate:
		mapping.DateColumn = col
	case RoleAmount:
		mapping.AmountColumn = col
	case RoleConcept:
		mapping.ConceptColumn = col
	}
}

// similarity scores two normalized strings 0-100 by shared bigrams
func similarity(a, b string) int {
	if a == b {
		return 100
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]bool)
	for i := 0; i+2 <= len(a); i++ {
		bigrams[a[i:i+2]] = true
	}

	shared := 0
	total := 0
	for i := 0; i+2 <= len(b); i++ {
		total++
		if bigrams[b[i:i+2]] {
			shared++
		}
	}
	if total == 0 {
		return 0
	}
	return shared * 100 / total
}

// NormalizeHeader lowercases header text and strips diacritics so that
// keyword matching is accent- and case-insensitive.
func NormalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return strings.ToLower(strings.TrimSpace(result))
}

// ApplyMapping converts table rows into movements using the mapping.
// Rows whose amount cell is empty or unparsable contribute a zero
// amount and are therefore dropped; surviving movements get dense
// indices 0..n-1 in source order.
func (cm *ColumnMapper) ApplyMapping(table *ingest.Table, mapping Mapping) ([]models.Movement, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	var movements []models.Movement
	dropped := 0

	for _, row := range table.Rows {
		amount, err := models.ParseAmount(cellAt(row, mapping.AmountColumn))
		if err != nil || amount.IsZero() {
			dropped++
			continue
		}

		movement := models.Movement{
			Index:   len(movements),
			Amount:  amount,
			Concept: strings.TrimSpace(cellAt(row, mapping.ConceptColumn)),
			Raw:     row,
		}

		if mapping.DateColumn != Unmapped {
			rawDate := strings.TrimSpace(cellAt(row, mapping.DateColumn))
			movement.RawDate = rawDate
			if parsed, err := models.ParseDateWithFormats(rawDate); err == nil {
				movement.Date = parsed
			}
		}

		movements = append(movements, movement)
	}

	cm.logger.WithFields(logger.Fields{
		"movements": len(movements),
		"dropped":   dropped,
	}).Info("Applied column mapping")

	return movements, nil
}

// cellAt returns the cell at the column or "" for ragged rows
func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
