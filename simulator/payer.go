package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/types"
)

// User is a customer of the payer PSP.
type User struct {
	Addr string `yaml:"addr"`
	Name string `yaml:"name"`
	PIN  string `yaml:"pin"`
}

// Submitter hands an authorized payment to the switch.
type Submitter interface {
	Submit(ctx context.Context, req *types.PayRequest) error
}

type SubmitFunc func(ctx context.Context, req *types.PayRequest) error

func (f SubmitFunc) Submit(ctx context.Context, req *types.PayRequest) error {
	return f(ctx, req)
}

// PayerPSP checks a customer's PIN before forwarding a payment and records
// the final responses the switch delivers.
type PayerPSP struct {
	orgID   string
	blocked map[string]bool
	logger  logger.Logger

	mu      sync.Mutex
	users   map[string]User
	results map[string]*types.PayResponse
	waiters map[string]chan struct{}
}

var _ clients.Originator = (*PayerPSP)(nil)

func NewPayerPSP(users []User, opts ...Option) *PayerPSP {
	s := newSettings(PayerPSPOrgID, opts)
	p := &PayerPSP{
		orgID:   s.orgID,
		blocked: s.blocked,
		logger:  s.logger,
		users:   make(map[string]User, len(users)),
		results: make(map[string]*types.PayResponse),
		waiters: make(map[string]chan struct{}),
	}
	for _, u := range users {
		p.users[u.Addr] = u
	}
	return p
}

func (p *PayerPSP) OrgID() string {
	return p.orgID
}

// Authorize applies the PSP checks to a PAY request.
func (p *PayerPSP) Authorize(req *types.PayRequest) error {
	addr := req.Payer.Addr
	if req.Payer.Amount == nil || req.Payer.Amount.Value.LessThan(MinDebitAmount.Decimal) {
		return types.NewError(types.ErrInvalidAmount, fmt.Sprintf("amount for %s is below %s", addr, MinDebitAmount))
	}

	pin := pinOf(req.Payer)
	if pin == "" {
		return types.NewError(types.ErrMissingPIN, "UPI PIN is required")
	}

	p.mu.Lock()
	user, ok := p.users[addr]
	p.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrPayerNotFound, fmt.Sprintf("no user for %s", addr))
	}
	if user.PIN != pin {
		return types.NewError(types.ErrInvalidPIN, "the entered UPI PIN is incorrect")
	}

	if payee := req.FirstPayee(); payee != nil && p.blocked[payee.Code] {
		return types.NewError(types.ErrCodeBlocked, "Code Blocked for Demo")
	}
	return nil
}

// Pay authorizes req and submits it. The outcome arrives later through Deliver.
func (p *PayerPSP) Pay(ctx context.Context, req *types.PayRequest, sw Submitter) error {
	fields := map[string]any{"msg_id": req.Head.MsgID, "txn_id": req.Txn.ID, "addr": req.Payer.Addr}
	if err := p.Authorize(req); err != nil {
		fields["error"] = err.Error()
		p.logger.Info("payment refused", fields)
		return err
	}

	p.expect(req.Head.MsgID)
	if err := sw.Submit(ctx, req); err != nil {
		fields["error"] = err.Error()
		p.logger.Warn("payment not accepted by the switch", fields)
		return err
	}
	p.logger.Info("payment forwarded", fields)
	return nil
}

// Deliver records a final response.
func (p *PayerPSP) Deliver(_ context.Context, _ string, resp *types.PayResponse) error {
	key := resp.Resp.ReqMsgID

	p.mu.Lock()
	p.results[key] = resp
	ch, ok := p.waiters[key]
	if !ok {
		ch = make(chan struct{})
		p.waiters[key] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	p.mu.Unlock()

	p.logger.Info("final response received", map[string]any{
		"msg_id":   key,
		"txn_id":   resp.Txn.ID,
		"result":   string(resp.Resp.Result),
		"err_code": resp.Resp.ErrCode,
	})
	return nil
}

// Result returns the final response to msgID if it has arrived.
func (p *PayerPSP) Result(msgID string) (*types.PayResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.results[msgID]
	return resp, ok
}

// Wait blocks until the final response to msgID arrives or ctx is done.
func (p *PayerPSP) Wait(ctx context.Context, msgID string) (*types.PayResponse, error) {
	ch := p.expect(msgID)
	select {
	case <-ch:
		resp, _ := p.Result(msgID)
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PayerPSP) expect(msgID string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[msgID]
	if !ok {
		ch = make(chan struct{})
		p.waiters[msgID] = ch
	}
	return ch
}

func pinOf(party types.Party) string {
	if party.Creds == nil {
		return ""
	}
	for _, c := range party.Creds.Cred {
		if c.Type == "PIN" {
			return c.Data
		}
	}
	return ""
}
