package ir

import (
	"fmt"
	"strings"
)

// FrontendPrefix marks identifiers allocated on the client.
// Server identifiers are numeric and never carry it.
const FrontendPrefix = "f_"

// IsFrontendID reports whether id is a temporary client-allocated identifier.
func IsFrontendID(id string) bool {
	return strings.HasPrefix(id, FrontendPrefix)
}

// EntityKind identifies a collection of domain records.
type EntityKind string

const (
	KindExpense       EntityKind = "expense"
	KindIncome        EntityKind = "income"
	KindBudget        EntityKind = "budget"
	KindCategory      EntityKind = "category"
	KindCategoryGroup EntityKind = "category_group"
)

// AllKinds lists every entity kind in a stable order.
var AllKinds = []EntityKind{KindExpense, KindIncome, KindBudget, KindCategory, KindCategoryGroup}

type kindInfo struct {
	bucket  string
	segment string
	prefix  string
}

var kinds = map[EntityKind]kindInfo{
	KindExpense:       {bucket: "main.expenses", segment: "expense", prefix: "f_e-"},
	KindIncome:        {bucket: "main.incomes", segment: "income", prefix: "f_i-"},
	KindBudget:        {bucket: "main.budgets", segment: "budget", prefix: "f_b-"},
	KindCategory:      {bucket: "main.categories", segment: "category", prefix: "f_c-"},
	KindCategoryGroup: {bucket: "main.categoryGroups", segment: "category_group", prefix: "f_g-"},
}

// ParseKind parses a kind name, accepting the path segment or the plural bucket suffix.
func ParseKind(s string) (EntityKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, info := range kinds {
		if s == string(k) || s == strings.ToLower(strings.TrimPrefix(info.bucket, "main.")) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Bucket returns the LocalStore collection holding entities of this kind.
func (k EntityKind) Bucket() string { return kinds[k].bucket }

// PathSegment returns the remote resource segment for this kind.
func (k EntityKind) PathSegment() string { return kinds[k].segment }

// TempPrefix returns the frontend id prefix used for this kind.
func (k EntityKind) TempPrefix() string { return kinds[k].prefix }

// CollectionPath returns the remote path used to create an entity.
func (k EntityKind) CollectionPath() []string {
	return []string{"main", k.PathSegment()}
}

// ResourcePath returns the remote path addressing one entity.
func (k EntityKind) ResourcePath(id string) []string {
	return []string{"main", k.PathSegment(), id}
}

// Method is the kind of mutation an operation performs remotely.
type Method string

const (
	MethodCreate         Method = "CREATE"
	MethodReplaceFull    Method = "REPLACE_FULL"
	MethodReplacePartial Method = "REPLACE_PARTIAL"
	MethodDelete         Method = "DELETE"
)

// HTTPVerb maps the method to its HTTP verb.
func (m Method) HTTPVerb() string {
	switch m {
	case MethodCreate:
		return "POST"
	case MethodReplaceFull:
		return "PUT"
	case MethodReplacePartial:
		return "PATCH"
	case MethodDelete:
		return "DELETE"
	default:
		return ""
	}
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m.HTTPVerb() != ""
}

// Status is the lifecycle state of a queued operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
)

// Unsent reports whether an operation in this status has not been handed to the remote.
func (s Status) Unsent() bool {
	return s == StatusPending || s == StatusRetrying || s == StatusFailed
}

// Callback selects the reconciliation routine run after a successful remote call.
//
// Callback is a closed enum. It marshals to its name, and unmarshalling an
// unknown name is an error.
type Callback uint8

const (
	CallbackNone Callback = iota
	CallbackReplaceID
	CallbackMergeFields
	CallbackConfirmDelete

	callbackCount
)

var callbackNames = [callbackCount]string{
	CallbackNone:          "none",
	CallbackReplaceID:     "replace_id",
	CallbackMergeFields:   "merge_fields",
	CallbackConfirmDelete: "confirm_delete",
}

// CallbackCount is the number of defined callbacks, for dispatch tables.
const CallbackCount = int(callbackCount)

// String returns the callback name.
func (c Callback) String() string {
	if int(c) < len(callbackNames) {
		return callbackNames[c]
	}
	return fmt.Sprintf("callback(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Callback) MarshalText() ([]byte, error) {
	if int(c) >= len(callbackNames) {
		return nil, fmt.Errorf("unknown callback %d", uint8(c))
	}
	return []byte(callbackNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Callback) UnmarshalText(text []byte) error {
	for i, name := range callbackNames {
		if name == string(text) {
			*c = Callback(i)
			return nil
		}
	}
	return fmt.Errorf("unknown callback %q", string(text))
}

// DefaultCallback returns the reconciliation routine for a method.
func DefaultCallback(m Method) Callback {
	switch m {
	case MethodCreate:
		return CallbackReplaceID
	case MethodReplaceFull, MethodReplacePartial:
		return CallbackMergeFields
	case MethodDelete:
		return CallbackConfirmDelete
	default:
		return CallbackNone
	}
}
