package tables

import (
	"regexp"

	"github.com/JonMunkholm/csvrefinery/internal/core"
)

// FraudTransactions is the key of the card-transaction schema.
const FraudTransactions = "fraud_transactions"

// postalCodePattern accepts a 5-digit ZIP with an optional ZIP+4 suffix.
// Cells are zero-padded with PadPostalCode before matching.
var postalCodePattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

func init() {
	core.Register(FraudTransactionsSchema())
}

// FraudTransactionsSchema returns a fresh copy of the card-transaction schema.
// Tests that need the schema without the global registry use this directly.
func FraudTransactionsSchema() *core.Schema {
	return &core.Schema{
		Key:   FraudTransactions,
		Label: "Card Transactions",
		Fields: []core.FieldSpec{
			{Name: "trans_date_trans_time", Type: core.FieldTimestamp},
			{Name: "cc_num", Type: core.FieldInt64},
			{Name: "merchant", Type: core.FieldText},
			{Name: "category", Type: core.FieldText},
			{Name: "amt", Type: core.FieldFloat64},
			{Name: "first", Type: core.FieldText},
			{Name: "last", Type: core.FieldText},
			{Name: "gender", Type: core.FieldText},
			{Name: "street", Type: core.FieldText},
			{Name: "city", Type: core.FieldText},
			{Name: "state", Type: core.FieldText},
			{Name: "zip", Type: core.FieldText},
			{Name: "lat", Type: core.FieldFloat64},
			{Name: "long", Type: core.FieldFloat64},
			{Name: "city_pop", Type: core.FieldInt64},
			{Name: "job", Type: core.FieldText},
			{Name: "dob", Type: core.FieldDate},
			{Name: "trans_num", Type: core.FieldText},
			{Name: "unix_time", Type: core.FieldInt64},
			{Name: "merch_lat", Type: core.FieldFloat64},
			{Name: "merch_long", Type: core.FieldFloat64},
			{Name: "is_fraud", Type: core.FieldInt8},
		},
		Rules: []core.Rule{
			core.AllowedIntegers("is_fraud", 0, 1),
			core.MatchesPatternAfter("zip", postalCodePattern, "invalid ZIP codes found", PadPostalCode),
		},
	}
}
