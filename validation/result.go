package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vitwit/upiswitch/types"
)

// ViolationKind classifies a broken constraint.
type ViolationKind string

const (
	KindMalformed   ViolationKind = "malformed"
	KindMissing     ViolationKind = "missing"
	KindCardinality ViolationKind = "cardinality"
	KindOrder       ViolationKind = "order"
	KindUnexpected  ViolationKind = "unexpected"
	KindType        ViolationKind = "type"
	KindEnum        ViolationKind = "enum"
	KindConsistency ViolationKind = "consistency"
)

// Violation is one broken constraint. Field is a dotted path such as
// "Head.msgId" or "Payees.Payee[0].addr".
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Field   string        `json:"field"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Message)
	}
	return fmt.Sprintf("%s %s: %s", v.Kind, v.Field, v.Message)
}

// Result is the outcome of validating one document.
type Result struct {
	MsgType    types.MessageType `json:"msgType"`
	Valid      bool              `json:"valid"`
	Malformed  bool              `json:"malformed,omitempty"`
	Violations []Violation       `json:"violations,omitempty"`
}

func newResult(msgType types.MessageType) *Result {
	return &Result{MsgType: msgType, Valid: true}
}

func (r *Result) add(kind ViolationKind, field, message string) {
	for _, v := range r.Violations {
		if v.Kind == kind && v.Field == field {
			return
		}
	}
	r.Violations = append(r.Violations, Violation{Kind: kind, Field: field, Message: message})
	r.Valid = false
	if kind == KindMalformed {
		r.Malformed = true
	}
}

func (r *Result) merge(other *Result) {
	for _, v := range other.Violations {
		r.add(v.Kind, v.Field, v.Message)
	}
}

func (r *Result) sort() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		if r.Violations[i].Field != r.Violations[j].Field {
			return r.Violations[i].Field < r.Violations[j].Field
		}
		return r.Violations[i].Kind < r.Violations[j].Kind
	})
}

// HasViolation reports whether a violation of kind names field.
func (r *Result) HasViolation(kind ViolationKind, field string) bool {
	for _, v := range r.Violations {
		if v.Kind == kind && v.Field == field {
			return true
		}
	}
	return false
}

// Fields returns the fields named by the violations.
func (r *Result) Fields() []string {
	fields := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

// Err returns nil for a valid result, otherwise a *types.SwitchError whose
// code tells malformed input apart from schema violations.
func (r *Result) Err() error {
	if r == nil || r.Valid {
		return nil
	}

	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.String())
	}

	if r.Malformed {
		return &types.SwitchError{
			Code:     types.ErrMalformedMessage,
			Message:  fmt.Sprintf("invalid XML for %s: %s", r.MsgType, strings.Join(parts, "; ")),
			Category: types.CategoryStructural,
			Data:     r.Violations,
		}
	}
	return &types.SwitchError{
		Code:     types.ErrSchemaViolation,
		Message:  fmt.Sprintf("%s does not match schema: %s", r.MsgType, strings.Join(parts, "; ")),
		Category: types.CategoryStructural,
		Data:     r.Violations,
	}
}
