package ir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a single outgoing payment.
type Expense struct {
	Amount     decimal.Decimal `json:"amount"`
	CategoryID string          `json:"category_id,omitempty"`
	BudgetID   string          `json:"budget_id,omitempty"`
	Note       string          `json:"note,omitempty"`
	Date       string          `json:"date,omitempty"`
}

// Income is a single incoming payment.
type Income struct {
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source,omitempty"`
	Note   string          `json:"note,omitempty"`
	Date   string          `json:"date,omitempty"`
}

// Budget caps spending for a period, optionally scoped to a category.
type Budget struct {
	Name       string          `json:"name,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Period     string          `json:"period,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
}

// Category groups expenses.
type Category struct {
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// CategoryGroup groups categories.
type CategoryGroup struct {
	Name string `json:"name"`
}

// ToPayload converts a typed model into a Payload through its JSON form.
func ToPayload(model any) (Payload, error) {
	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("to payload: %w", err)
	}
	p, err := DecodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("to payload: %w", err)
	}
	return p, nil
}

// ModelFor returns a typed model for kind with defaults filled in.
func ModelFor(kind EntityKind) (any, error) {
	switch kind {
	case KindExpense:
		return &Expense{Date: time.Now().UTC().Format(time.DateOnly)}, nil
	case KindIncome:
		return &Income{Date: time.Now().UTC().Format(time.DateOnly)}, nil
	case KindBudget:
		return &Budget{Period: "monthly"}, nil
	case KindCategory:
		return &Category{}, nil
	case KindCategoryGroup:
		return &CategoryGroup{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// ParseAmount parses a decimal amount from a payload value.
func ParseAmount(v any) (decimal.Decimal, error) {
	switch a := v.(type) {
	case string:
		return decimal.NewFromString(a)
	case json.Number:
		return decimal.NewFromString(a.String())
	case float64:
		return decimal.NewFromFloat(a), nil
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int64:
		return decimal.NewFromInt(a), nil
	case decimal.Decimal:
		return a, nil
	default:
		return decimal.Zero, fmt.Errorf("invalid amount %v (%T)", v, v)
	}
}
