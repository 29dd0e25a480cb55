package validation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// Is makes field errors match apperr.ErrInvalid.
func (ve *ValidationErrors) Is(target error) bool {
	return target == apperr.ErrInvalid
}

// Err returns ve as an error, or nil when nothing was collected.
func (ve *ValidationErrors) Err() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Single returns a validation error carrying one field message.
func Single(field, message string) error {
	ve := &ValidationErrors{}
	ve.Add(field, message)
	return ve
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	if !Contains(allowed, value) {
		ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	}
}

// ValidateDate checks a field is a valid date (YYYY-MM-DD).
func ValidateDate(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		ve.Add(field, "must be a valid date (YYYY-MM-DD)")
	}
}

// ValidateDateOrder checks from is not after to when both are set.
func ValidateDateOrder(ve *ValidationErrors, field, from, to string) {
	if from == "" || to == "" {
		return
	}
	f, err1 := time.Parse("2006-01-02", from)
	t, err2 := time.Parse("2006-01-02", to)
	if err1 == nil && err2 == nil && f.After(t) {
		ve.Add(field, "must not be before the start date")
	}
}

// ValidatePositiveFloat checks a field is > 0.
func ValidatePositiveFloat(ve *ValidationErrors, field string, value float64) {
	if value <= 0 {
		ve.Add(field, "must be a positive number")
	}
}

// ValidateNonNegativeFloat checks a field is >= 0.
func ValidateNonNegativeFloat(ve *ValidationErrors, field string, value float64) {
	if value < 0 {
		ve.Add(field, "must be non-negative")
	}
}

// ValidateIntRange checks a field is within a specified range.
func ValidateIntRange(ve *ValidationErrors, field string, value, min, max int) {
	if value < min || value > max {
		ve.Add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
}

// Maximum value constants to prevent overflow and ensure reasonable limits.
const (
	MaxQuantity     = 10000000.0
	MaxPaymentTerms = 365
	MaxStringLength = 10000
)

var maxAmount = decimal.NewFromInt(1_000_000_000)

// ValidateMaxQuantity checks quantity doesn't exceed reasonable maximum.
func ValidateMaxQuantity(ve *ValidationErrors, field string, value float64) {
	if value > MaxQuantity {
		ve.Add(field, fmt.Sprintf("exceeds maximum allowed quantity of %.0f", MaxQuantity))
	}
}

// ValidateAmount checks a money amount is non-negative, within bounds and
// has at most two decimal places.
func ValidateAmount(ve *ValidationErrors, field string, value decimal.Decimal) {
	switch {
	case value.IsNegative():
		ve.Add(field, "must be non-negative")
	case value.GreaterThan(maxAmount):
		ve.Add(field, "exceeds maximum allowed amount")
	case value.Exponent() < -2 && !value.Equal(value.Round(2)):
		ve.Add(field, "must have at most 2 decimal places")
	}
}

// ValidatePositiveAmount is ValidateAmount that also rejects zero.
func ValidatePositiveAmount(ve *ValidationErrors, field string, value decimal.Decimal) {
	if !value.IsPositive() {
		ve.Add(field, "must be greater than zero")
		return
	}
	ValidateAmount(ve, field, value)
}

// ValidateRate checks a percentage rate is within 0..100.
func ValidateRate(ve *ValidationErrors, field string, value decimal.Decimal) {
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
		ve.Add(field, "must be between 0 and 100")
	}
}

// ValidateEmail checks a field is a valid email (if non-empty).
func ValidateEmail(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		ve.Add(field, "must be a valid email address")
	}
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// Querier is the subset of *sql.DB and *sql.Tx used for reference checks.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// referenceTables whitelists the tables ValidateForeignKey may query, along
// with their key column.
var referenceTables = map[string]string{
	"customers":   "id",
	"suppliers":   "id",
	"products":    "id",
	"categories":  "id",
	"accounts":    "code",
	"vehicles":    "id",
	"drivers":     "id",
	"trips":       "id",
	"shipments":   "id",
	"purchases":   "id",
	"users":       "id",
	"price_rules": "id",
}

// ValidateForeignKey checks that a referenced record exists.
func ValidateForeignKey(ctx context.Context, ve *ValidationErrors, q Querier, field, table string, id any) {
	if s, ok := id.(string); ok && s == "" {
		return
	}
	col, ok := referenceTables[table]
	if !ok {
		ve.Add(field, "invalid table reference")
		return
	}
	var count int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s=?", table, col), id).Scan(&count)
	if err != nil || count == 0 {
		ve.Add(field, fmt.Sprintf("references non-existent %s: %v", strings.TrimSuffix(table, "s"), id))
	}
}

// SKUPattern matches valid SKU format (letters, numbers, hyphens).
var SKUPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_.]*$`)

// ValidateSKU validates a SKU field.
func ValidateSKU(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if !SKUPattern.MatchString(value) {
		ve.Add(field, "must contain only letters, numbers, hyphens, underscores, and dots")
	}
}

// AccountCodePattern matches chart-of-accounts codes such as 1000 or 1100-01.
var AccountCodePattern = regexp.MustCompile(`^[0-9]{3,6}(-[0-9A-Za-z]{1,6})?$`)

// ValidateAccountCode validates an account code field.
func ValidateAccountCode(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if !AccountCodePattern.MatchString(value) {
		ve.Add(field, "must be 3-6 digits with an optional -suffix")
	}
}

// AsValidation reports whether err carries field errors.
func AsValidation(err error) (*ValidationErrors, bool) {
	var ve *ValidationErrors
	ok := errors.As(err, &ve)
	return ve, ok
}
