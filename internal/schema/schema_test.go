package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/spendsync/internal/ir"
)

func TestValidate(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    ir.EntityKind
		method  ir.Method
		data    ir.Payload
		wantErr string
	}{
		{
			name:   "expense with string amount",
			kind:   ir.KindExpense,
			method: ir.MethodCreate,
			data:   ir.Payload{"amount": "12.50", "note": "lunch", "date": "2026-03-01"},
		},
		{
			name:   "expense with numeric amount and server refs",
			kind:   ir.KindExpense,
			method: ir.MethodCreate,
			data:   ir.Payload{"amount": json.Number("7"), "category_id": json.Number("3"), "budget_id": "f_b-abcdefghij"},
		},
		{
			name:    "create without required amount",
			kind:    ir.KindExpense,
			method:  ir.MethodCreate,
			data:    ir.Payload{"note": "lunch"},
			wantErr: "amount",
		},
		{
			name:    "malformed amount",
			kind:    ir.KindIncome,
			method:  ir.MethodCreate,
			data:    ir.Payload{"amount": "twelve"},
			wantErr: "amount",
		},
		{
			name:    "unknown field",
			kind:    ir.KindCategoryGroup,
			method:  ir.MethodCreate,
			data:    ir.Payload{"name": "Home", "icon": "house"},
			wantErr: "icon",
		},
		{
			name:    "bad date",
			kind:    ir.KindIncome,
			method:  ir.MethodReplacePartial,
			data:    ir.Payload{"date": "March 1st"},
			wantErr: "date",
		},
		{
			name:   "partial may omit required fields",
			kind:   ir.KindBudget,
			method: ir.MethodReplacePartial,
			data:   ir.Payload{"period": "weekly"},
		},
		{
			name:   "empty partial",
			kind:   ir.KindCategory,
			method: ir.MethodReplacePartial,
			data:   ir.Payload{},
		},
		{
			name:    "full replace needs required fields",
			kind:    ir.KindCategory,
			method:  ir.MethodReplaceFull,
			data:    ir.Payload{"color": "red"},
			wantErr: "name",
		},
		{
			name:    "empty name",
			kind:    ir.KindCategory,
			method:  ir.MethodCreate,
			data:    ir.Payload{"name": ""},
			wantErr: "name",
		},
		{
			name:    "unknown period",
			kind:    ir.KindBudget,
			method:  ir.MethodCreate,
			data:    ir.Payload{"amount": "100", "period": "daily"},
			wantErr: "period",
		},
		{
			name:   "delete has no payload",
			kind:   ir.KindBudget,
			method: ir.MethodDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.kind, tt.method, tt.data)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	v := MustNew()
	err := v.Validate("invoice", ir.MethodCreate, ir.Payload{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "unknown entity kind", ve.Message)
}

func TestValidate_TypedModels(t *testing.T) {
	v := MustNew()
	for _, kind := range ir.AllKinds {
		model, err := ir.ModelFor(kind)
		require.NoError(t, err)
		data, err := ir.ToPayload(model)
		require.NoError(t, err)

		// Defaults alone validate as a partial update.
		assert.NoError(t, v.Validate(kind, ir.MethodReplacePartial, withoutEmpty(data)), kind)
	}
}

// withoutEmpty drops zero-valued strings a default model may carry.
func withoutEmpty(p ir.Payload) ir.Payload {
	out := ir.Payload{}
	for k, val := range p {
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		out[k] = val
	}
	return out
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "amount", fieldName([]string{"#full", "expense", "amount"}))
	assert.Equal(t, "a.b", fieldName([]string{"a", "b"}))
	assert.Equal(t, "", fieldName(nil))
}
