package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/types"
)

type replyFunc func(req *types.PayRequest) (*types.PayResponse, error)

type fakeBank struct {
	mu       sync.Mutex
	requests []*types.PayRequest
	reply    replyFunc
}

func (b *fakeBank) handle(_ context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	reply := b.reply
	b.mu.Unlock()
	if reply == nil {
		return nil, nil
	}
	return reply(req)
}

func (b *fakeBank) Debit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return b.handle(ctx, req)
}

func (b *fakeBank) Credit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return b.handle(ctx, req)
}

func (b *fakeBank) calls() []*types.PayRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.PayRequest(nil), b.requests...)
}

// reversingBank is a remitter bank that also accepts reversals.
type reversingBank struct {
	fakeBank
	reversals fakeBank
}

func (b *reversingBank) Reverse(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return b.reversals.handle(ctx, req)
}

type fakeOriginator struct {
	mu        sync.Mutex
	responses []*types.PayResponse
	replyTo   []string
}

func (o *fakeOriginator) Deliver(_ context.Context, replyTo string, resp *types.PayResponse) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, resp)
	o.replyTo = append(o.replyTo, replyTo)
	return nil
}

func (o *fakeOriginator) delivered() []*types.PayResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*types.PayResponse(nil), o.responses...)
}

func payRequest(msgID string) *types.PayRequest {
	return &types.PayRequest{
		Head: types.NewHead("PAYER_PSP", msgID, "", ""),
		Txn:  types.Txn{ID: "txn-" + msgID, Type: types.TxnPay, Purpose: "00", Note: "dinner", CustRef: "804113"},
		Payer: types.Party{
			Addr:   "a@x",
			Name:   "Asha",
			SeqNum: "1",
			Type:   "PERSON",
			Code:   "0000",
			Creds:  &types.Creds{Cred: []types.Cred{{Type: "PIN", SubType: "MPIN", Data: "1234"}}},
			Amount: &types.Amount{Value: types.MustMoney("500.00"), Curr: "INR"},
		},
		Payees: types.Payees{Payee: []types.Party{{
			Addr:   "b@y",
			Name:   "Bala",
			SeqNum: "1",
			Type:   "PERSON",
			Code:   "9999",
			Amount: &types.Amount{Value: types.MustMoney("500.00"), Curr: "INR"},
		}}},
	}
}

func legResponse(req *types.PayRequest, result types.ResultCode, code string) *types.PayResponse {
	resp := &types.PayResponse{
		Head: types.NewHead("BANK", "R"+req.Head.MsgID, "", ""),
		Txn:  types.Txn{ID: req.Txn.ID, Type: req.Txn.Type},
		Resp: types.Resp{ReqMsgID: req.Head.MsgID, Result: result, ErrCode: code},
	}
	if result == types.ResultSuccess {
		resp.Resp.Refs = []types.Ref{{Type: "PAYEE", Addr: req.FirstPayee().Addr, BalAmt: types.MustMoney("500.00").Ptr()}}
	}
	return resp
}

func succeed() replyFunc {
	return func(req *types.PayRequest) (*types.PayResponse, error) {
		return legResponse(req, types.ResultSuccess, ""), nil
	}
}

func decline(code string) replyFunc {
	return func(req *types.PayRequest) (*types.PayResponse, error) {
		return legResponse(req, types.ResultFailure, code), nil
	}
}

func unreachable(role types.CollaboratorRole) replyFunc {
	return func(*types.PayRequest) (*types.PayResponse, error) {
		return nil, clients.Unreachable(role, errors.New("connection refused"))
	}
}

type harness struct {
	svc        *SettlementService
	store      *pending.MemoryStore
	originator *fakeOriginator
}

func newHarness(t *testing.T, debit clients.DebitCollaborator, credit clients.CreditCollaborator, cfg Config, opts ...Option) *harness {
	t.Helper()
	if cfg.OrgID == "" {
		cfg.OrgID = "NPCI"
	}
	h := &harness{store: pending.NewMemoryStore(), originator: &fakeOriginator{}}
	svc, err := NewSettlementService(cfg, h.store, debit, credit, h.originator, opts...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestHappyPath(t *testing.T) {
	debit := &fakeBank{reply: succeed()}
	credit := &fakeBank{reply: succeed()}
	h := newHarness(t, debit, credit, Config{})

	ack, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "http://psp/callback")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", ack.MsgID)
	assert.Equal(t, "txn-pay-1", ack.TxnID)
	assert.Equal(t, types.StateResponded, ack.State)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	final := got[0]
	assert.Equal(t, types.ResultSuccess, final.Resp.Result)
	assert.Empty(t, final.Resp.ErrCode)
	assert.Equal(t, "pay-1", final.Resp.ReqMsgID)
	assert.Equal(t, types.TxnPay, final.Txn.Type)
	assert.Equal(t, "txn-pay-1", final.Txn.ID)
	assert.Equal(t, "RESPpay-1", final.Head.MsgID)
	assert.Equal(t, "NPCI", final.Head.OrgID)
	require.Len(t, final.Resp.Refs, 1)
	assert.Equal(t, "500.00", final.Resp.Refs[0].BalAmt.String())
	assert.Equal(t, []string{"http://psp/callback"}, h.originator.replyTo)

	assert.Len(t, debit.calls(), 1)
	assert.Len(t, credit.calls(), 1)
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.svc.Reconciliations())
}

func TestDebitFailureIsPropagated(t *testing.T) {
	debit := &fakeBank{reply: decline(types.ErrInsufficientBalance)}
	credit := &fakeBank{reply: succeed()}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, types.ResultFailure, got[0].Resp.Result)
	assert.Equal(t, types.ErrInsufficientBalance, got[0].Resp.ErrCode)
	assert.Equal(t, "pay-1", got[0].Resp.ReqMsgID)
	assert.Empty(t, credit.calls())
	assert.Zero(t, h.store.Len())
}

func TestCreditFailureAfterDebitSuccess(t *testing.T) {
	debit := &fakeBank{reply: succeed()}
	credit := &fakeBank{reply: decline(types.ErrPayeeNotFound)}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, types.ResultFailure, got[0].Resp.Result)
	assert.Equal(t, types.ErrPayeeNotFound, got[0].Resp.ErrCode)
	assert.Zero(t, h.store.Len())

	recs := h.svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, "pay-1", recs[0].OriginMsgID)
	assert.Equal(t, types.ErrPayeeNotFound, recs[0].ErrCode)
	assert.Equal(t, types.ReversalManual, recs[0].Policy)
	assert.Equal(t, ReconciliationOpen, recs[0].Status)
	assert.Equal(t, "500.00", recs[0].Amount.Value.String())
}

func TestLegsPreserveAttributes(t *testing.T) {
	debit := &fakeBank{}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	req := payRequest("pay-1")
	_, err := h.svc.Initiate(context.Background(), req, "")
	require.NoError(t, err)

	require.Len(t, debit.calls(), 1)
	debitReq := debit.calls()[0]
	assert.NotEqual(t, "pay-1", debitReq.Head.MsgID)
	assert.Regexp(t, `^NPCI[0-9A-F]{32}$`, debitReq.Head.MsgID)
	assert.Equal(t, "NPCI", debitReq.Head.OrgID)
	assert.Equal(t, types.TxnDebit, debitReq.Txn.Type)
	assert.Nil(t, debitReq.Payer.Creds)
	assert.Equal(t, []string{"debit:" + debitReq.Head.MsgID}, h.svc.Pending())

	require.NoError(t, h.svc.HandleLegResult(context.Background(), legResponse(debitReq, types.ResultSuccess, "")))

	require.Len(t, credit.calls(), 1)
	creditReq := credit.calls()[0]
	assert.NotEqual(t, "pay-1", creditReq.Head.MsgID)
	assert.NotEqual(t, debitReq.Head.MsgID, creditReq.Head.MsgID)
	assert.Equal(t, types.TxnCredit, creditReq.Txn.Type)
	assert.Equal(t, "txn-pay-1", creditReq.Txn.ID)
	assert.Equal(t, "00", creditReq.Txn.Purpose)
	assert.Equal(t, "dinner", creditReq.Txn.Note)
	assert.Equal(t, "804113", creditReq.Txn.CustRef)
	assert.Nil(t, creditReq.Payer.Creds)
	assert.Equal(t, "0000", creditReq.Payer.Code)
	assert.Equal(t, "Asha", creditReq.Payer.Name)
	assert.True(t, creditReq.Payer.Amount.Value.Equal(req.Payer.Amount.Value))

	payee := creditReq.FirstPayee()
	require.NotNil(t, payee)
	assert.Equal(t, req.FirstPayee().Addr, payee.Addr)
	assert.Equal(t, req.FirstPayee().Code, payee.Code)
	assert.Equal(t, req.FirstPayee().Name, payee.Name)
	assert.Equal(t, req.FirstPayee().SeqNum, payee.SeqNum)
	assert.Equal(t, "500.00", payee.Amount.Value.String())

	// the originator's request keeps its credentials
	assert.NotNil(t, req.Payer.Creds)
	assert.Equal(t, []string{"credit:" + creditReq.Head.MsgID}, h.svc.Pending())

	require.NoError(t, h.svc.HandleLegResult(context.Background(), legResponse(creditReq, types.ResultSuccess, "")))
	require.Len(t, h.originator.delivered(), 1)
	assert.True(t, h.originator.delivered()[0].Succeeded())
}

func TestDuplicateDebitResultDispatchesOneCredit(t *testing.T) {
	debit := &fakeBank{}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	resp := legResponse(debit.calls()[0], types.ResultSuccess, "")

	const deliveries = 16
	var (
		wg     sync.WaitGroup
		misses atomic.Int32
		start  = make(chan struct{})
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := h.svc.HandleLegResult(context.Background(), resp); types.IsCode(err, types.ErrCorrelationMiss) {
				misses.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, credit.calls(), 1)
	assert.Equal(t, int32(deliveries-1), misses.Load())
}

func TestCorrelationMiss(t *testing.T) {
	debit := &fakeBank{}
	h := newHarness(t, debit, &fakeBank{}, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	stray := legResponse(payRequest("unknown"), types.ResultSuccess, "")
	stray.Txn.Type = types.TxnDebit
	err = h.svc.HandleLegResult(context.Background(), stray)
	assert.True(t, types.IsCode(err, types.ErrCorrelationMiss))
	assert.Equal(t, types.CategoryCorrelation, types.CategoryOf(err))

	// a CREDIT answer never consumes a debit context
	wrongLeg := legResponse(debit.calls()[0], types.ResultSuccess, "")
	wrongLeg.Txn.Type = types.TxnCredit
	err = h.svc.HandleLegResult(context.Background(), wrongLeg)
	assert.True(t, types.IsCode(err, types.ErrCorrelationMiss))

	assert.Equal(t, []string{"debit:" + debit.calls()[0].Head.MsgID}, h.svc.Pending())
	assert.Empty(t, h.originator.delivered())
}

func TestResultWithoutLegType(t *testing.T) {
	h := newHarness(t, &fakeBank{}, &fakeBank{}, Config{})

	resp := legResponse(payRequest("pay-1"), types.ResultSuccess, "")
	err := h.svc.HandleLegResult(context.Background(), resp)
	assert.True(t, types.IsCode(err, types.ErrProtocolError))
}

func TestDebitUnreachable(t *testing.T) {
	debit := &fakeBank{reply: unreachable(types.RoleRemitterBank)}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamUnreachable))
	assert.Zero(t, h.store.Len())
	assert.Empty(t, credit.calls())
	assert.Empty(t, h.originator.delivered())

	// nothing moved, so the same msgId may be retried
	debit.mu.Lock()
	debit.reply = succeed()
	debit.mu.Unlock()
	ack, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	assert.Equal(t, types.StateCreditDispatched, ack.State)
	assert.Len(t, debit.calls(), 2)
	assert.Len(t, credit.calls(), 1)
}

func TestAsyncAckState(t *testing.T) {
	debit := &fakeBank{}
	h := newHarness(t, debit, &fakeBank{}, Config{})

	ack, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	assert.Equal(t, types.StateDebitDispatched, ack.State)

	declined := &fakeBank{reply: decline(types.ErrInsufficientBalance)}
	h = newHarness(t, declined, &fakeBank{}, Config{})
	ack, err = h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	assert.Equal(t, types.StateResponded, ack.State)
}

func TestMsgIDReuseAcrossOriginators(t *testing.T) {
	debit := &fakeBank{}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	fromA := payRequest("pay-1")
	fromB := payRequest("pay-1")
	fromB.Head.OrgID = "OTHER_PSP"
	fromB.Txn.ID = "txn-other"

	_, err := h.svc.Initiate(context.Background(), fromA, "http://a/callback")
	require.NoError(t, err)
	_, err = h.svc.Initiate(context.Background(), fromB, "http://b/callback")
	require.NoError(t, err)

	calls := debit.calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].Head.MsgID, calls[1].Head.MsgID)
	assert.Len(t, h.svc.Pending(), 2)

	// each debit result drives its own payment
	require.NoError(t, h.svc.HandleLegResult(context.Background(), legResponse(calls[1], types.ResultFailure, types.ErrInsufficientBalance)))
	require.NoError(t, h.svc.HandleLegResult(context.Background(), legResponse(calls[0], types.ResultSuccess, "")))

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "txn-other", got[0].Txn.ID)
	assert.Equal(t, types.ErrInsufficientBalance, got[0].Resp.ErrCode)
	assert.Equal(t, []string{"http://b/callback"}, h.originator.replyTo)

	require.Len(t, credit.calls(), 1)
	assert.Equal(t, "txn-pay-1", credit.calls()[0].Txn.ID)

	// the same originator still cannot reuse its id
	_, err = h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	assert.True(t, types.IsCode(err, types.ErrDuplicateMessage))
}

func TestDebitProtocolError(t *testing.T) {
	debit := &fakeBank{reply: func(*types.PayRequest) (*types.PayResponse, error) {
		return nil, clients.ProtocolError(types.RoleRemitterBank, "invalid RespPay", nil)
	}}
	h := newHarness(t, debit, &fakeBank{}, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	assert.True(t, types.IsCode(err, types.ErrProtocolError))
	assert.Zero(t, h.store.Len())

	// the bank answered, so the id stays used
	_, err = h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	assert.True(t, types.IsCode(err, types.ErrDuplicateMessage))
}

func TestCreditUnreachable(t *testing.T) {
	debit := &fakeBank{reply: succeed()}
	credit := &fakeBank{reply: unreachable(types.RoleBeneficiaryBank)}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, types.ResultFailure, got[0].Resp.Result)
	assert.Equal(t, types.ErrUpstreamUnreachable, got[0].Resp.ErrCode)
	assert.Zero(t, h.store.Len())

	recs := h.svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, types.ErrUpstreamUnreachable, recs[0].ErrCode)
}

func TestCreditAnsweredBeforeCallFails(t *testing.T) {
	debit := &fakeBank{reply: succeed()}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	// the bank's callback lands on another goroutine while the call itself times out
	credit.reply = func(req *types.PayRequest) (*types.PayResponse, error) {
		done := make(chan error, 1)
		go func() {
			done <- h.svc.HandleLegResult(context.Background(), legResponse(req, types.ResultSuccess, ""))
		}()
		require.NoError(t, <-done)
		return nil, clients.Unreachable(types.RoleBeneficiaryBank, context.DeadlineExceeded)
	}

	ack, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	assert.Equal(t, types.StateCreditDispatched, ack.State)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.True(t, got[0].Succeeded())
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.svc.Reconciliations())
}

func TestAutoReversal(t *testing.T) {
	debit := &reversingBank{fakeBank: fakeBank{reply: succeed()}}
	debit.reversals.reply = succeed()
	credit := &fakeBank{reply: decline(types.ErrPayeeNotFound)}
	h := newHarness(t, debit, credit, Config{ReversalPolicy: types.ReversalAuto})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	reversals := debit.reversals.calls()
	require.Len(t, reversals, 1)
	rev := reversals[0]
	assert.Equal(t, types.TxnCredit, rev.Txn.Type)
	assert.Equal(t, "txn-pay-1", rev.Txn.ID)
	assert.Equal(t, "pay-1", rev.Txn.RefID)
	assert.Equal(t, "a@x", rev.FirstPayee().Addr)
	assert.Equal(t, "500.00", rev.Payer.Amount.Value.String())

	recs := h.svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, types.ReversalAuto, recs[0].Policy)
	assert.Equal(t, ReconciliationReversed, recs[0].Status)
	assert.Equal(t, rev.Head.MsgID, recs[0].ReversalMsgID)

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, types.ErrPayeeNotFound, got[0].Resp.ErrCode)
	assert.Zero(t, h.store.Len())
}

func TestAutoReversalAnsweredLater(t *testing.T) {
	debit := &reversingBank{fakeBank: fakeBank{reply: succeed()}}
	credit := &fakeBank{reply: decline(types.ErrPayeeNotFound)}
	h := newHarness(t, debit, credit, Config{ReversalPolicy: types.ReversalAuto})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	rev := debit.reversals.calls()[0]
	require.Equal(t, ReconciliationReversing, h.svc.Reconciliations()[0].Status)
	require.Len(t, h.originator.delivered(), 1)

	require.NoError(t, h.svc.HandleLegResult(context.Background(), legResponse(rev, types.ResultFailure, types.ErrCodeBlocked)))
	recs := h.svc.Reconciliations()
	assert.Equal(t, ReconciliationFailed, recs[0].Status)
	assert.Equal(t, types.ErrCodeBlocked, recs[0].Detail)
	assert.Len(t, h.originator.delivered(), 1)
}

func TestAutoReversalWithoutReverser(t *testing.T) {
	h := newHarness(t, &fakeBank{reply: succeed()}, &fakeBank{reply: decline(types.ErrPayeeNotFound)}, Config{ReversalPolicy: types.ReversalAuto})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	recs := h.svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, ReconciliationOpen, recs[0].Status)
	assert.NotEmpty(t, recs[0].Detail)
}

func TestInitiateRejects(t *testing.T) {
	h := newHarness(t, &fakeBank{reply: succeed()}, &fakeBank{reply: succeed()}, Config{})

	_, err := h.svc.Initiate(context.Background(), nil, "")
	assert.Error(t, err)

	leg := payRequest("pay-1")
	leg.Txn.Type = types.TxnDebit
	leg.Payer.Creds = nil
	_, err = h.svc.Initiate(context.Background(), leg, "")
	assert.True(t, types.IsCode(err, types.ErrUnsupportedMessage))

	noAmount := payRequest("pay-2")
	noAmount.Payer.Amount = nil
	_, err = h.svc.Initiate(context.Background(), noAmount, "")
	assert.True(t, types.IsCode(err, types.ErrSchemaViolation))

	_, err = h.svc.Initiate(context.Background(), payRequest("pay-3"), "")
	require.NoError(t, err)
	_, err = h.svc.Initiate(context.Background(), payRequest("pay-3"), "")
	assert.True(t, types.IsCode(err, types.ErrDuplicateMessage))
	assert.Len(t, h.originator.delivered(), 1)
}

func TestInvalidLegResultBecomesProtocolError(t *testing.T) {
	debit := &fakeBank{}
	credit := &fakeBank{}
	h := newHarness(t, debit, credit, Config{})

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)

	// FAILURE without an error code breaks the contract
	bad := legResponse(debit.calls()[0], types.ResultFailure, "")
	err = h.svc.HandleLegResult(context.Background(), bad)
	assert.True(t, types.IsCode(err, types.ErrProtocolError))

	got := h.originator.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, types.ErrProtocolError, got[0].Resp.ErrCode)
	assert.Empty(t, credit.calls())

	err = h.svc.RejectLegResult(context.Background(), "nobody", errors.New("bad xml"))
	assert.True(t, types.IsCode(err, types.ErrProtocolError))
	assert.Len(t, h.originator.delivered(), 1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestEvictExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	store := pending.NewMemoryStore(pending.WithClock(clock.Now))
	originator := &fakeOriginator{}
	credit := &fakeBank{}

	svc, err := NewSettlementService(
		Config{OrgID: "NPCI", PendingTTL: time.Minute, SeenTTL: time.Minute},
		store, &fakeBank{reply: succeed()}, credit, originator,
		WithClock(clock.Now),
	)
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	require.Len(t, credit.calls(), 1)
	assert.Empty(t, svc.EvictExpired())

	clock.Advance(2 * time.Minute)
	evicted := svc.EvictExpired()
	require.Len(t, evicted, 1)
	assert.Equal(t, types.LegCredit, evicted[0].Leg)
	assert.Zero(t, store.Len())

	recs := svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, types.ErrUpstreamUnreachable, recs[0].ErrCode)

	// the message id has expired from the seen-set as well
	_, err = svc.Initiate(context.Background(), payRequest("pay-1"), "")
	assert.NoError(t, err)

	late := legResponse(credit.calls()[0], types.ResultSuccess, "")
	assert.True(t, types.IsCode(svc.HandleLegResult(context.Background(), late), types.ErrCorrelationMiss))
}

func TestLateCreditResponseAfterStoreExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	ttl := time.Minute
	store := pending.NewMemoryStore(pending.WithTTL(ttl), pending.WithClock(clock.Now))
	originator := &fakeOriginator{}
	credit := &fakeBank{}

	svc, err := NewSettlementService(
		Config{OrgID: "NPCI", PendingTTL: ttl, SeenTTL: time.Hour},
		store, &fakeBank{reply: succeed()}, credit, originator,
		WithClock(clock.Now),
	)
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	require.Len(t, credit.calls(), 1)

	// the credit bank answers after the context expired but before any janitor pass
	clock.Advance(ttl + time.Second)
	late := legResponse(credit.calls()[0], types.ResultFailure, types.ErrPayeeNotFound)
	err = svc.HandleLegResult(context.Background(), late)
	assert.True(t, types.IsCode(err, types.ErrCorrelationMiss))

	recs := svc.Reconciliations()
	require.Len(t, recs, 1)
	assert.Equal(t, "pay-1", recs[0].OriginMsgID)
	assert.Equal(t, credit.calls()[0].Head.MsgID, recs[0].CreditMsgID)
	assert.Equal(t, ReconciliationOpen, recs[0].Status)
	assert.Contains(t, recs[0].Detail, types.ErrPayeeNotFound)
	assert.Zero(t, store.Len())
	assert.Empty(t, originator.delivered())

	assert.Empty(t, svc.EvictExpired())
	assert.Len(t, svc.Reconciliations(), 1)
}

func TestRunJanitorStops(t *testing.T) {
	h := newHarness(t, &fakeBank{}, &fakeBank{}, Config{PendingTTL: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	_, err := h.svc.Initiate(context.Background(), payRequest("pay-1"), "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestNewSettlementServiceValidates(t *testing.T) {
	store := pending.NewMemoryStore()
	bank := &fakeBank{}
	o := &fakeOriginator{}

	_, err := NewSettlementService(Config{}, store, bank, bank, o)
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = NewSettlementService(Config{OrgID: "NPCI"}, nil, bank, bank, o)
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = NewSettlementService(Config{OrgID: "NPCI", ReversalPolicy: "sometimes"}, store, bank, bank, o)
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	svc, err := NewSettlementService(Config{OrgID: "NPCI"}, store, bank, bank, o)
	require.NoError(t, err)
	assert.Equal(t, types.ReversalManual, svc.Config().ReversalPolicy)
	assert.Equal(t, defaultTimeout, svc.Config().Timeout)
}
