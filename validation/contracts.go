package validation

import (
	"github.com/vitwit/upiswitch/types"
)

// element describes one XML element of a contract: its name, how often it
// may appear under its parent and the order of its own children.
type element struct {
	name     string
	min, max int
	children []element
}

const unbounded = -1

func one(name string, children ...element) element {
	return element{name: name, min: 1, max: 1, children: children}
}

func optional(name string, children ...element) element {
	return element{name: name, min: 0, max: 1, children: children}
}

func many(name string, min int, children ...element) element {
	return element{name: name, min: min, max: unbounded, children: children}
}

func (e element) child(name string) (int, *element) {
	for i := range e.children {
		if e.children[i].name == name {
			return i, &e.children[i]
		}
	}
	return -1, nil
}

var (
	txnElement = one("Txn", optional("Purpose"))

	credsElement = optional("Creds", many("Cred", 1, one("Data")))

	contracts = map[types.MessageType]element{
		types.MessageReqPay: one(string(types.MessageReqPay),
			one("Head"),
			txnElement,
			one("Payer", credsElement, one("Amount")),
			one("Payees", many("Payee", 1, optional("Amount"))),
		),
		types.MessageRespPay: one(string(types.MessageRespPay),
			one("Head"),
			txnElement,
			one("Resp", many("Ref", 0)),
		),
		types.MessageReqValAdd: one(string(types.MessageReqValAdd),
			one("Head"),
			txnElement,
			optional("Payer", credsElement, optional("Amount")),
			one("Payee", optional("Amount")),
		),
		types.MessageRespValAdd: one(string(types.MessageRespValAdd),
			one("Head"),
			txnElement,
			one("Resp",
				optional("Merchant",
					optional("Identifier"),
					optional("Name"),
					optional("Ownership"),
				),
				optional("FeatureSupported"),
			),
		),
	}

	// allowedTxnTypes lists the Txn.type values each contract accepts.
	allowedTxnTypes = map[types.MessageType][]types.TxnType{
		types.MessageReqPay:     {types.TxnPay, types.TxnDebit, types.TxnCredit},
		types.MessageRespPay:    {types.TxnPay, types.TxnDebit, types.TxnCredit},
		types.MessageReqValAdd:  {types.TxnValAdd},
		types.MessageRespValAdd: {types.TxnValAdd},
	}
)

func txnTypeAllowed(msgType types.MessageType, t types.TxnType) bool {
	for _, allowed := range allowedTxnTypes[msgType] {
		if allowed == t {
			return true
		}
	}
	return false
}
