package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/types"
)

// Minimum amounts of the demo banks.
var (
	MinDebitAmount  = types.MustMoney("1")
	MinCreditAmount = types.MustMoney("5.00")
)

// DefaultPurposes are the purpose codes the remitter bank knows.
var DefaultPurposes = map[string]string{
	"44": "Utility Payments",
}

// Bank settles debit or credit legs against an AccountStore. Responses are
// recorded by sender orgId and msgId and replayed when the same pair arrives again.
type Bank struct {
	role      types.CollaboratorRole
	orgID     string
	accounts  AccountStore
	minAmount types.Money
	minCode   string
	blocked   map[string]bool
	purposes  map[string]string
	logger    logger.Logger

	flight  singleflight.Group
	mu      sync.Mutex
	replies map[string]*types.PayResponse
}

var (
	_ clients.DebitCollaborator  = (*Bank)(nil)
	_ clients.CreditCollaborator = (*Bank)(nil)
	_ clients.Reverser           = (*Bank)(nil)
)

// NewRemitterBank returns the payer's bank. It debits payers and accepts
// reversals of its own debits.
func NewRemitterBank(accounts AccountStore, opts ...Option) *Bank {
	s := newSettings(RemitterBankOrgID, opts)
	if s.purposes == nil {
		s.purposes = DefaultPurposes
	}
	return newBank(types.RoleRemitterBank, accounts, MinDebitAmount, types.ErrMinAmountViolation, s)
}

// NewBeneficiaryBank returns the payee's bank.
func NewBeneficiaryBank(accounts AccountStore, opts ...Option) *Bank {
	return newBank(types.RoleBeneficiaryBank, accounts, MinCreditAmount, types.ErrMinAmountNotMet, newSettings(BeneficiaryBankOrgID, opts))
}

func newBank(role types.CollaboratorRole, accounts AccountStore, minAmount types.Money, minCode string, s settings) *Bank {
	if s.minAmount != nil {
		minAmount = *s.minAmount
	}
	return &Bank{
		role:      role,
		orgID:     s.orgID,
		accounts:  accounts,
		minAmount: minAmount,
		minCode:   minCode,
		blocked:   s.blocked,
		purposes:  s.purposes,
		logger:    s.logger,
		replies:   make(map[string]*types.PayResponse),
	}
}

func (b *Bank) Role() types.CollaboratorRole {
	return b.role
}

func (b *Bank) OrgID() string {
	return b.orgID
}

// Accounts exposes the ledger of the bank.
func (b *Bank) Accounts() AccountStore {
	return b.accounts
}

// Debit takes the payer amount from the payer's account.
func (b *Bank) Debit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	if req.Txn.Type != types.TxnDebit {
		return nil, types.NewError(types.ErrUnsupportedMessage, fmt.Sprintf("%s: expected a DEBIT, got %s", b.role, req.Txn.Type))
	}
	return b.once(ctx, req, b.debit)
}

// Credit adds the payer amount to the primary payee's account.
func (b *Bank) Credit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	if req.Txn.Type != types.TxnCredit {
		return nil, types.NewError(types.ErrUnsupportedMessage, fmt.Sprintf("%s: expected a CREDIT, got %s", b.role, req.Txn.Type))
	}
	return b.once(ctx, req, b.credit)
}

// Reverse returns a debited amount to the payer, who is the payee of the
// reversal. Minimum amount and code rules do not apply to it.
func (b *Bank) Reverse(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	if req.Txn.Type != types.TxnCredit {
		return nil, types.NewError(types.ErrUnsupportedMessage, fmt.Sprintf("%s: expected a CREDIT reversal, got %s", b.role, req.Txn.Type))
	}
	return b.once(ctx, req, b.reverse)
}

type settleFunc func(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error)

func (b *Bank) once(ctx context.Context, req *types.PayRequest, settle settleFunc) (*types.PayResponse, error) {
	key := replayKey(req.Head)
	if resp, ok := b.recorded(key); ok {
		b.logger.Info("replaying recorded response", map[string]any{"msg_id": req.Head.MsgID, "org_id": req.Head.OrgID, "txn_id": req.Txn.ID, "role": string(b.role)})
		return resp, nil
	}

	v, err, _ := b.flight.Do(key, func() (any, error) {
		if resp, ok := b.recorded(key); ok {
			return resp, nil
		}
		resp, err := settle(ctx, req)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.replies[key] = resp
		b.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.PayResponse), nil
}

func (b *Bank) recorded(key string) (*types.PayResponse, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp, ok := b.replies[key]
	return resp, ok
}

// replayKey scopes a message id to its sender, since ids are only unique per org.
func replayKey(h types.Head) string {
	return h.OrgID + "/" + h.MsgID
}

func (b *Bank) debit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	if req.Txn.Tagged != nil {
		if _, ok := b.purposes[req.Txn.Tagged.Code]; !ok {
			return b.decline(req, types.ErrInvalidPurpose), nil
		}
	}
	if b.blocked[req.Payer.Code] {
		return b.decline(req, types.ErrCodeBlocked), nil
	}

	addr := req.Payer.Addr
	if _, err := b.accounts.Get(ctx, addr); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return b.decline(req, types.ErrPayerNotFound), nil
		}
		return nil, clients.Unreachable(b.role, err)
	}

	amount := amountOf(req)
	if amount.LessThan(b.minAmount.Decimal) {
		return b.decline(req, b.minCode), nil
	}

	bal, err := b.accounts.Withdraw(ctx, addr, amount)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return b.decline(req, types.ErrInsufficientBalance), nil
	case errors.Is(err, ErrAccountNotFound):
		return b.decline(req, types.ErrPayerNotFound), nil
	case err != nil:
		return nil, clients.Unreachable(b.role, err)
	}
	return b.settled(req, addr, bal), nil
}

func (b *Bank) credit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	payee := req.FirstPayee()
	if payee == nil {
		return b.decline(req, types.ErrPayeeNotFound), nil
	}
	if b.blocked[payee.Code] {
		return b.decline(req, types.ErrCodeBlocked), nil
	}

	if _, err := b.accounts.Get(ctx, payee.Addr); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return b.decline(req, types.ErrPayeeNotFound), nil
		}
		return nil, clients.Unreachable(b.role, err)
	}

	amount := amountOf(req)
	if amount.LessThan(b.minAmount.Decimal) {
		return b.decline(req, b.minCode), nil
	}
	return b.deposit(ctx, req, payee.Addr, amount, types.ErrPayeeNotFound)
}

func (b *Bank) reverse(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	payee := req.FirstPayee()
	if payee == nil {
		return b.decline(req, types.ErrPayerNotFound), nil
	}
	return b.deposit(ctx, req, payee.Addr, amountOf(req), types.ErrPayerNotFound)
}

func (b *Bank) deposit(ctx context.Context, req *types.PayRequest, addr string, amount decimal.Decimal, missing string) (*types.PayResponse, error) {
	bal, err := b.accounts.Deposit(ctx, addr, amount)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return b.decline(req, missing), nil
	case err != nil:
		return nil, clients.Unreachable(b.role, err)
	}
	return b.settled(req, addr, bal), nil
}

func (b *Bank) settled(req *types.PayRequest, addr string, bal types.Money) *types.PayResponse {
	b.logger.Info("leg settled", map[string]any{
		"msg_id": req.Head.MsgID,
		"txn_id": req.Txn.ID,
		"role":   string(b.role),
		"addr":   addr,
		"amount": amountOf(req).String(),
	})
	resp := b.response(req, types.ResultSuccess, "")
	resp.Resp.Refs = []types.Ref{{BalAmt: bal.Ptr()}}
	return resp
}

func (b *Bank) decline(req *types.PayRequest, code string) *types.PayResponse {
	b.logger.Info("leg declined", map[string]any{
		"msg_id":   req.Head.MsgID,
		"txn_id":   req.Txn.ID,
		"role":     string(b.role),
		"err_code": code,
	})
	return b.response(req, types.ResultFailure, code)
}

func (b *Bank) response(req *types.PayRequest, result types.ResultCode, code string) *types.PayResponse {
	msgID := fmt.Sprintf("resppay-%s-%s", strings.ToLower(string(req.Txn.Type)), req.Head.MsgID)
	return &types.PayResponse{
		Head: types.NewHead(b.orgID, msgID, req.Head.Ver, req.Head.ProdType),
		Txn:  types.Txn{ID: req.Txn.ID, Type: req.Txn.Type, RefID: req.Txn.RefID},
		Resp: types.Resp{
			ReqMsgID: req.Head.MsgID,
			Result:   result,
			ErrCode:  code,
		},
	}
}

func amountOf(req *types.PayRequest) decimal.Decimal {
	if req.Payer.Amount == nil {
		return decimal.Zero
	}
	return req.Payer.Amount.Value.Decimal
}
