package slots

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/skillrunner/api/schemas"
)

func TestResolve(t *testing.T) {
	slotValues := map[string]any{
		"customer": "Acme GmbH",
		"amount":   500.0,
		"quantity": json.Number("3"),
		"price":    12.5,
		"reverse":  true,
	}

	tests := []struct {
		name     string
		value    string
		want     string
		resolved bool
	}{
		{name: "plain value passes through", value: "#save-btn", want: "#save-btn", resolved: true},
		{name: "single placeholder", value: "{{customer}}", want: "Acme GmbH", resolved: true},
		{name: "embedded placeholders", value: "Invoice for {{customer}} x{{quantity}}", want: "Invoice for Acme GmbH x3", resolved: true},
		{name: "whole floats have no fraction", value: "{{amount}}", want: "500", resolved: true},
		{name: "fractional floats keep their digits", value: "{{price}}", want: "12.5", resolved: true},
		{name: "booleans render lowercase", value: "{{reverse}}", want: "true", resolved: true},
		{name: "whitespace inside braces is tolerated", value: "{{ customer }}", want: "Acme GmbH", resolved: true},
		{name: "unknown slot is unresolved", value: "{{missing}}", want: "", resolved: false},
		{name: "partially resolved is unresolved", value: "{{customer}} {{missing}}", want: "", resolved: false},
		{name: "empty value stays empty", value: "", want: "", resolved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.value, slotValues)
			assert.Equal(t, tt.resolved, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("nil slot value is unresolved", func(t *testing.T) {
		_, ok := Resolve("{{customer}}", map[string]any{"customer": nil})
		assert.False(t, ok)
	})
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"customer", "amount"}, Placeholders("{{customer}} owes {{amount}} ({{customer}})"))
	assert.Empty(t, Placeholders("no placeholders here"))
}

func TestApplyDefaults(t *testing.T) {
	now := time.Date(2026, time.March, 25, 10, 0, 0, 0, time.UTC)

	t.Run("defaults are filled", func(t *testing.T) {
		merged := ApplyDefaults(nil, now)

		assert.Equal(t, "25.03.2026", merged["invoice_date"])
		assert.Equal(t, "25.03.2026", merged["delivery_date"])
		assert.Equal(t, "08.04.2026", merged["payment_deadline"])
		assert.Equal(t, "08.04.2026", merged["due_date"])
		assert.Equal(t, "EUR", merged["currency"])
		assert.Equal(t, "1", merged["quantity"])
		assert.Equal(t, "month", merged["unit"])
		assert.Equal(t, "General Service", merged["description"])
		assert.Equal(t, "Service export", merged["tax_rule"])
	})

	t.Run("caller values win", func(t *testing.T) {
		input := map[string]any{"currency": "USD", "customer": "Acme GmbH", "quantity": 2}
		merged := ApplyDefaults(input, now)

		assert.Equal(t, "USD", merged["currency"])
		assert.Equal(t, "Acme GmbH", merged["customer"])
		assert.Equal(t, 2, merged["quantity"])
		assert.Len(t, input, 3, "the caller's map is not modified")
	})

	t.Run("empty caller values do not override defaults", func(t *testing.T) {
		merged := ApplyDefaults(map[string]any{"currency": "", "unit": nil, "note": ""}, now)

		assert.Equal(t, "EUR", merged["currency"])
		assert.Equal(t, "month", merged["unit"])
		assert.Contains(t, merged, "note", "empty values without a default are kept")
	})
}

func TestValidate(t *testing.T) {
	schema := schemas.SlotsSchema{
		Type:     "object",
		Required: []string{"customer"},
		Properties: map[string]schemas.SlotProperty{
			"customer": {Type: "string"},
			"amount":   {Type: "number"},
		},
	}

	t.Run("valid slots", func(t *testing.T) {
		findings, err := Validate(schema, map[string]any{"customer": "Acme GmbH", "amount": 500})
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("missing required slot", func(t *testing.T) {
		findings, err := Validate(schema, map[string]any{"amount": 500})
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Contains(t, findings[0], "customer")
	})

	t.Run("wrong type", func(t *testing.T) {
		findings, err := Validate(schema, map[string]any{"customer": "Acme GmbH", "amount": "five hundred"})
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Contains(t, findings[0], "amount")
	})

	t.Run("nil slots against a schema without requirements", func(t *testing.T) {
		findings, err := Validate(schemas.SlotsSchema{Type: "object", Properties: map[string]schemas.SlotProperty{}}, nil)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestUndeclared(t *testing.T) {
	spec := schemas.SkillSpecification{
		Steps: []schemas.Step{
			{Action: schemas.ActionFill, Selector: "#customer", Value: "{{customer}}"},
			{Action: schemas.ActionFill, Selector: "#amount", Value: "{{amount}}"},
			{Action: schemas.ActionClick, Selector: "text={{button}}"},
			{Action: schemas.ActionFill, Selector: "#again", Value: "{{amount}}"},
		},
		SlotsSchema: schemas.SlotsSchema{
			Type:       "object",
			Properties: map[string]schemas.SlotProperty{"customer": {Type: "string"}},
		},
	}

	assert.Equal(t, []string{"amount", "button"}, Undeclared(spec))
}
