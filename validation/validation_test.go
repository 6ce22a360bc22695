package validation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
	"github.com/warp/sacco-engine/validation"
)

type feeInput struct {
	TenantID string          `json:"tenant_id" validate:"required"`
	Kind     string          `json:"kind" validate:"required,oneof=LEDGER_FEE SMS_FEE"`
	Note     string          `json:"note,omitempty" validate:"max=5"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	Internal string          `json:"-" validate:"required"`
}

func validInput() feeInput {
	return feeInput{
		TenantID: "sacco-001",
		Kind:     "SMS_FEE",
		Amount:   decimal.RequireFromString("150.00"),
		Internal: "x",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	assert.NoError(t, validation.New().ValidateStruct(validInput()))
}

func TestValidateStruct_ReportsJSONNames(t *testing.T) {
	// GIVEN: An input failing every rule
	// WHEN: It is validated
	// THEN: Each field is reported under its json name with a readable message

	in := feeInput{Kind: "PENALTY", Note: "too long", Amount: decimal.Zero}

	err := validation.New().ValidateStruct(in)

	var fieldErrs *validation.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, map[string]string{
		"tenant_id": "is required",
		"kind":      "must be one of LEDGER_FEE SMS_FEE",
		"note":      "must be at most 5 characters",
		"amount":    "must be greater than 0",
		"Internal":  "is required",
	}, fieldErrs.Fields)
}

func TestValidateStruct_DecimalComparison(t *testing.T) {
	v := validation.New()

	in := validInput()
	in.Amount = decimal.RequireFromString("0.01")
	assert.NoError(t, v.ValidateStruct(in))

	in.Amount = decimal.RequireFromString("-0.01")
	assert.Error(t, v.ValidateStruct(in))
}

func TestFieldErrors_ClassifiedAsValidation(t *testing.T) {
	err := validation.New().ValidateStruct(feeInput{})

	assert.ErrorIs(t, err, payout.ErrValidation)
	assert.True(t, payout.IsClientError(err))
}

func TestFieldErrors_MessageIsSorted(t *testing.T) {
	err := &validation.FieldErrors{Fields: map[string]string{
		"tenant_id": "is required",
		"amount":    "must be greater than 0",
	}}
	assert.Equal(t, "validation failed: amount: must be greater than 0, tenant_id: is required", err.Error())
}
