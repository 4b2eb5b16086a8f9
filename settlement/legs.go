package settlement

import (
	"time"

	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
)

// newDebitContext snapshots what the switch needs from a PAY request. The
// debit leg goes out under a fresh msgId of orgID, since originator ids are
// only unique per originator.
func newDebitContext(req *types.PayRequest, orgID, replyTo string, now time.Time) *pending.Context {
	return &pending.Context{
		Leg:         types.LegDebit,
		OriginMsgID: req.Head.MsgID,
		LegMsgID:    utils.NewMsgID(orgID),
		OriginOrgID: req.Head.OrgID,
		Ver:         req.Head.Ver,
		ProdType:    req.Head.ProdType,
		Txn:         req.Txn,
		Payer:       req.Payer.WithoutCreds(),
		Payees:      copyParties(req.Payees.Payee),
		Amount:      *req.Payer.Amount,
		ReplyTo:     replyTo,
		State:       types.StateReceived,
		CreatedAt:   now,
	}
}

// newCreditContext derives the credit leg from a settled debit under a
// fresh msgId.
func newCreditContext(debit *pending.Context, orgID string, now time.Time) *pending.Context {
	c := *debit
	c.Leg = types.LegCredit
	c.LegMsgID = utils.NewMsgID(orgID)
	c.Payer = debit.Payer.WithoutCreds()
	c.Payees = copyParties(debit.Payees)
	c.CreatedAt = now
	return &c
}

// newReversalContext derives a compensating credit that returns the debited
// amount to the payer.
func newReversalContext(credit *pending.Context, orgID string, now time.Time) *pending.Context {
	c := newCreditContext(credit, orgID, now)
	c.Reversal = true
	c.Payees = []types.Party{credit.Payer.WithoutCreds()}
	c.Txn.RefID = credit.OriginMsgID
	c.State = types.StateCreditDispatched
	return c
}

// buildLeg re-types the stored transaction for one leg. Every payer and payee
// attribute is carried over; credentials never are.
func buildLeg(c *pending.Context, orgID string, t types.TxnType) *types.PayRequest {
	txn := c.Txn
	txn.Type = t
	return &types.PayRequest{
		Head:   types.NewHead(orgID, c.LegMsgID, c.Ver, c.ProdType),
		Txn:    txn,
		Payer:  c.Payer.WithoutCreds(),
		Payees: types.Payees{Payee: copyParties(c.Payees)},
	}
}

// buildFinalResponse answers the originating PAY request.
func buildFinalResponse(c *pending.Context, orgID string, result types.ResultCode, code string, refs []types.Ref) *types.PayResponse {
	txn := c.Txn
	txn.Type = types.TxnPay
	if result == types.ResultSuccess {
		code = ""
	}
	return &types.PayResponse{
		Head: types.NewHead(orgID, utils.ResponseMsgID(c.OriginMsgID), c.Ver, c.ProdType),
		Txn:  txn,
		Resp: types.Resp{
			ReqMsgID: c.OriginMsgID,
			Result:   result,
			ErrCode:  code,
			Refs:     refs,
		},
	}
}

func copyParties(in []types.Party) []types.Party {
	out := make([]types.Party, len(in))
	for i, p := range in {
		out[i] = p.WithoutCreds()
	}
	return out
}
