// Package validation is the schema gate of the switch. It checks inbound
// documents against the four message contracts before any routing happens.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("xml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		if m, ok := v.Interface().(types.Money); ok {
			return m.Decimal.String()
		}
		return nil
	}, types.Money{})

	_ = validate.RegisterValidation("money", validateMoney)

	validate.RegisterStructValidation(payRequestRules, types.PayRequest{})
	validate.RegisterStructValidation(payResponseRules, types.PayResponse{})
	validate.RegisterStructValidation(valAddRequestRules, types.ValAddRequest{})
	validate.RegisterStructValidation(valAddResponseRules, types.ValAddResponse{})
}

// validateMoney accepts non-negative amounts with at most two fractional digits.
func validateMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	if d.IsNegative() {
		return false
	}
	return d.Truncate(types.MoneyScale).Equal(d)
}

func payRequestRules(sl validator.StructLevel) {
	req := sl.Current().Interface().(types.PayRequest)

	if req.Txn.Type != "" && !txnTypeAllowed(types.MessageReqPay, req.Txn.Type) {
		sl.ReportError(req.Txn.Type, "Txn.type", "Type", "txntype", string(req.Txn.Type))
	}

	if req.Payer.Amount == nil {
		sl.ReportError(req.Payer.Amount, "Payer.Amount", "Amount", "required", "")
	} else if !req.Payer.Amount.Value.IsPositive() {
		sl.ReportError(req.Payer.Amount.Value, "Payer.Amount.value", "Value", "gt", "0")
	}

	// Credentials stop at the PIN-check boundary.
	if req.Payer.Creds != nil && req.Txn.Type != types.TxnPay {
		sl.ReportError(req.Payer.Creds, "Payer.Creds", "Creds", "creds", string(req.Txn.Type))
	}

	if len(req.Payees.Payee) == 0 {
		sl.ReportError(req.Payees.Payee, "Payees.Payee", "Payee", "required", "")
	}
}

func payResponseRules(sl validator.StructLevel) {
	resp := sl.Current().Interface().(types.PayResponse)

	if resp.Txn.Type != "" && !txnTypeAllowed(types.MessageRespPay, resp.Txn.Type) {
		sl.ReportError(resp.Txn.Type, "Txn.type", "Type", "txntype", string(resp.Txn.Type))
	}

	errCodeRule(sl, resp.Resp.Result, resp.Resp.ErrCode)
}

// errCodeRule requires an errCode exactly when result is FAILURE.
func errCodeRule(sl validator.StructLevel, result types.ResultCode, errCode string) {
	switch result {
	case types.ResultFailure:
		if errCode == "" {
			sl.ReportError(errCode, "Resp.errCode", "ErrCode", "errcode", "FAILURE")
		}
	case types.ResultSuccess:
		if errCode != "" {
			sl.ReportError(errCode, "Resp.errCode", "ErrCode", "errcode", "SUCCESS")
		}
	}
}

func valAddRequestRules(sl validator.StructLevel) {
	req := sl.Current().Interface().(types.ValAddRequest)

	if req.Txn.Type != "" && !txnTypeAllowed(types.MessageReqValAdd, req.Txn.Type) {
		sl.ReportError(req.Txn.Type, "Txn.type", "Type", "txntype", string(req.Txn.Type))
	}
}

func valAddResponseRules(sl validator.StructLevel) {
	resp := sl.Current().Interface().(types.ValAddResponse)

	if resp.Txn.Type != "" && !txnTypeAllowed(types.MessageRespValAdd, resp.Txn.Type) {
		sl.ReportError(resp.Txn.Type, "Txn.type", "Type", "txntype", string(resp.Txn.Type))
	}
	errCodeRule(sl, resp.Resp.Result, resp.Resp.ErrCode)
}

// ValidateDocument is the wire gate: it checks well-formedness, the element
// skeleton of the contract and then the decoded field values.
func ValidateDocument(msgType types.MessageType, data []byte) *Result {
	res := newResult(msgType)

	contract, ok := contracts[msgType]
	if !ok {
		res.add(KindEnum, "", fmt.Sprintf("unknown message type %q", msgType))
		return res
	}

	root, err := parseSkeleton(data)
	if err != nil {
		res.add(KindMalformed, "", err.Error())
		return res
	}
	if root.name != contract.name {
		res.add(KindUnexpected, root.name, fmt.Sprintf("root element must be %s", contract.name))
		return res
	}

	checkStructure(root, contract, "", res)

	msg, err := codec.Decode(msgType, data)
	if err != nil {
		// The skeleton parsed, so this is a value the model cannot hold,
		// such as a non-numeric amount.
		res.add(KindType, "", unwrapDecode(err).Error())
		res.sort()
		return res
	}

	res.merge(ValidateMessage(msg))
	res.sort()
	return res
}

// ValidateMessage checks the field values of an already decoded message.
func ValidateMessage(msg types.Message) *Result {
	if msg == nil || reflect.ValueOf(msg).IsNil() {
		res := newResult("")
		res.add(KindMissing, "", "message is nil")
		return res
	}

	res := newResult(msg.MessageType())
	err := validate.Struct(msg)
	if err == nil {
		return res
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		res.add(KindType, "", err.Error())
		return res
	}

	for _, fe := range verrs {
		field := fieldPath(fe)
		kind, message := describe(fe, field)
		res.add(kind, field, message)
	}
	res.sort()
	return res
}

// fieldPath drops the struct type name that validator puts in front of the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError, field string) (ViolationKind, string) {
	switch fe.Tag() {
	case "required":
		return KindMissing, fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return KindCardinality, fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
		}
		return KindType, fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "len":
		return KindType, fmt.Sprintf("%s must be %s characters long", field, fe.Param())
	case "oneof":
		return KindEnum, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "txntype":
		return KindEnum, fmt.Sprintf("unknown transaction type %s", fe.Param())
	case "numeric":
		return KindType, fmt.Sprintf("%s must be numeric", field)
	case "money":
		return KindType, fmt.Sprintf("%s must be a non-negative amount with at most %d decimal places", field, types.MoneyScale)
	case "gt":
		return KindType, fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "creds":
		return KindConsistency, fmt.Sprintf("%s is only allowed on %s messages, got %s", field, types.TxnPay, fe.Param())
	case "errcode":
		if fe.Param() == string(types.ResultFailure) {
			return KindConsistency, "errCode is required when result is FAILURE"
		}
		return KindConsistency, "errCode must be absent when result is SUCCESS"
	default:
		return KindType, fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func unwrapDecode(err error) error {
	var de *codec.DecodeError
	if errors.As(err, &de) && de.Err != nil {
		return de.Err
	}
	return err
}
