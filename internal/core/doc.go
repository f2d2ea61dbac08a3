// Package core provides the domain model and validation logic for raw CSV ingestion.
//
// This package has no storage or transport dependencies. It is shared by the
// ingestion orchestrator, the columnar writer and the test fixtures of every
// other package.
//
// # Schemas
//
// Schemas are registered at init time using [Register]. Each [Schema] lists
// the expected columns, their types and the domain rules evaluated once the
// file parses:
//
//	core.Register(&core.Schema{
//	    Key: "fraud_transactions",
//	    Fields: []core.FieldSpec{
//	        {Name: "amt", Type: core.FieldFloat64},
//	        {Name: "is_fraud", Type: core.FieldInt8},
//	    },
//	    Rules: []core.Rule{core.AllowedIntegers("is_fraud", 0, 1)},
//	})
//
// # Validation
//
// [Validator.Validate] reads a whole CSV into a [Dataset]. Header names are
// matched exactly after trimming; column order in the file is irrelevant and
// extra columns are ignored. Empty cells are null.
//
// # Error Handling
//
// Every failure is an [*Error] carrying a [Kind]. Use [KindOf] or [IsKind] to
// branch on the kind and [Describe] to obtain the support code and operator
// guidance for it.
package core
