// Package pending holds the per-leg contexts the switch needs to build the
// next message of a payment once a bank answers.
package pending

import (
	"time"

	"github.com/vitwit/upiswitch/types"
)

// Context is retained between dispatching a leg and receiving its response.
// Party snapshots never carry credentials.
type Context struct {
	Leg types.Leg

	// OriginMsgID is the msgId of the initiating request; the final response
	// is correlated to it.
	OriginMsgID string
	// LegMsgID is the msgId of the dispatched leg.
	LegMsgID string
	// Reversal marks a compensating credit sent back to the payer's bank.
	Reversal bool

	// OriginOrgID is the orgId of the originator, used for the seen-set key.
	OriginOrgID string
	Ver         string
	ProdType    string
	Txn         types.Txn
	Payer       types.Party
	Payees      []types.Party
	Amount      types.Amount

	ReplyTo   string
	State     types.TxnState
	CreatedAt time.Time
}

// TxnID returns the stable transaction id of the payment.
func (c *Context) TxnID() string {
	return c.Txn.ID
}

// Payee returns the primary payee.
func (c *Context) Payee() types.Party {
	if len(c.Payees) == 0 {
		return types.Party{}
	}
	return c.Payees[0]
}

// Key returns the store key of the context: the leg and its msgId.
func (c *Context) Key() string {
	return Key(c.Leg, c.LegMsgID)
}

// Key namespaces a leg msgId so a response of one leg never consumes the
// context of the other.
func Key(leg types.Leg, msgID string) string {
	return string(leg) + ":" + msgID
}

// Advance moves the context to next if the protocol allows it.
func (c *Context) Advance(next types.TxnState) bool {
	if !types.CanTransition(c.State, next) {
		return false
	}
	c.State = next
	return true
}

// Fields returns the log fields identifying the context.
func (c *Context) Fields() map[string]any {
	return map[string]any{
		"msg_id":        c.LegMsgID,
		"origin_msg_id": c.OriginMsgID,
		"txn_id":        c.Txn.ID,
		"leg":           string(c.Leg),
		"reversal":      c.Reversal,
		"state":         string(c.State),
	}
}
