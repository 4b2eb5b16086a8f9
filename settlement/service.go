// Package settlement drives a payment through its debit and credit legs and
// answers the originator once both banks have spoken.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/validation"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultPendingTTL = 2 * time.Minute
	defaultSeenTTL    = 10 * time.Minute
)

// Ack acknowledges a payment request the switch accepted.
type Ack struct {
	MsgID string         `json:"msgId"`
	TxnID string         `json:"txnId"`
	// State is how far the transaction got before Initiate returned.
	State types.TxnState `json:"state"`
}

// Config contains the settings of the state machine.
type Config struct {
	OrgID          string
	Timeout        time.Duration
	PendingTTL     time.Duration
	SeenTTL        time.Duration
	ReversalPolicy types.ReversalPolicy
}

// ConfigFrom extracts the state machine settings from a switch configuration.
func ConfigFrom(c *types.SwitchConfig) Config {
	return Config{
		OrgID:          c.OrgID,
		Timeout:        c.DefaultTimeout,
		PendingTTL:     c.PendingTTL,
		SeenTTL:        c.SeenTTL,
		ReversalPolicy: c.ReversalPolicy,
	}
}

// SettlementService routes each payment: debit leg, credit leg, final response.
type SettlementService struct {
	cfg        Config
	store      pending.Store
	seen       *pending.SeenSet
	debit      clients.DebitCollaborator
	credit     clients.CreditCollaborator
	originator clients.Originator
	reverser   clients.Reverser
	logger     logger.Logger
	metrics    metrics.Recorder
	now        func() time.Time

	mu              sync.Mutex
	reconciliations []Reconciliation
}

// Option configures a SettlementService.
type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *SettlementService) {
		s.metrics = r
	}
}

// WithClock replaces time.Now for context timestamps and the seen-set.
func WithClock(now func() time.Time) Option {
	return func(s *SettlementService) {
		s.now = now
	}
}

// WithReverser sets the collaborator that receives automatic reversals. By
// default the debit collaborator is used when it implements clients.Reverser.
func WithReverser(r clients.Reverser) Option {
	return func(s *SettlementService) {
		s.reverser = r
	}
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	cfg Config,
	store pending.Store,
	debit clients.DebitCollaborator,
	credit clients.CreditCollaborator,
	originator clients.Originator,
	opts ...Option,
) (*SettlementService, error) {
	switch {
	case cfg.OrgID == "":
		return nil, types.NewError(types.ErrConfigError, "settlement: org id is required")
	case store == nil:
		return nil, types.NewError(types.ErrConfigError, "settlement: pending store is required")
	case debit == nil, credit == nil:
		return nil, types.NewError(types.ErrConfigError, "settlement: debit and credit collaborators are required")
	case originator == nil:
		return nil, types.NewError(types.ErrConfigError, "settlement: originator is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = defaultSeenTTL
	}
	if cfg.ReversalPolicy == "" {
		cfg.ReversalPolicy = types.ReversalManual
	}
	if !cfg.ReversalPolicy.Valid() {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("settlement: unknown reversal policy %q", cfg.ReversalPolicy))
	}

	s := &SettlementService{
		cfg:        cfg,
		store:      store,
		debit:      debit,
		credit:     credit,
		originator: originator,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		now:        time.Now,
	}
	if r, ok := debit.(clients.Reverser); ok {
		s.reverser = r
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seen = pending.NewSeenSet(cfg.SeenTTL, s.now)
	return s, nil
}

// Config returns the effective settings.
func (s *SettlementService) Config() Config {
	return s.cfg
}

// Pending returns the store keys of the legs awaiting a response.
func (s *SettlementService) Pending() []string {
	return s.store.Keys()
}

// Initiate accepts a PAY request from the originator and dispatches its debit
// leg. replyTo is where the final response goes; empty means the originator's
// configured endpoint.
func (s *SettlementService) Initiate(ctx context.Context, req *types.PayRequest, replyTo string) (*Ack, error) {
	if req == nil {
		return nil, types.NewError(types.ErrSchemaViolation, "ReqPay is required")
	}
	if res := validation.ValidateMessage(req); !res.Valid {
		s.metrics.IncCounter(metrics.EventRejected, nil)
		return nil, res.Err()
	}
	if req.Txn.Type != types.TxnPay {
		s.metrics.IncCounter(metrics.EventRejected, nil)
		return nil, types.NewError(types.ErrUnsupportedMessage,
			fmt.Sprintf("a payment starts with Txn.type PAY, got %s", req.Txn.Type))
	}

	fields := map[string]any{
		"msg_id": req.Head.MsgID,
		"org_id": req.Head.OrgID,
		"txn_id": req.Txn.ID,
	}
	if !s.seen.Add(seenKey(req.Head)) {
		s.metrics.IncCounter(metrics.EventDuplicate, nil)
		s.logger.Warn("duplicate message id", fields)
		return nil, types.NewError(types.ErrDuplicateMessage, fmt.Sprintf("msgId %s was already used", req.Head.MsgID))
	}
	s.metrics.IncCounter(metrics.EventReceived, nil)

	c := newDebitContext(req, s.cfg.OrgID, replyTo, s.now())
	key := c.Key()
	leg := buildLeg(c, s.cfg.OrgID, types.TxnDebit)
	s.transition(c, types.StateDebitDispatched)
	fields["leg_msg_id"] = c.LegMsgID

	if err := s.store.Put(key, c); err != nil {
		s.seen.Remove(seenKey(req.Head))
		return nil, types.WrapError(types.ErrInternal, "store debit context", err)
	}

	ack := &Ack{MsgID: req.Head.MsgID, TxnID: req.Txn.ID, State: types.StateDebitDispatched}
	s.metrics.IncCounter(metrics.EventLegDispatched, legLabels(types.LegDebit, "dispatched"))

	resp, err := s.call(ctx, types.LegDebit, leg, s.debit.Debit)
	if err != nil {
		if _, ok := s.store.Take(key); ok {
			// An unreachable bank moved nothing, so the msgId may be retried.
			if clients.IsUnreachable(err) {
				s.seen.Remove(seenKey(req.Head))
			}
			s.logger.Warn("debit leg abandoned", logger.Merge(fields, map[string]any{"error": err}))
			return nil, err
		}
		// The bank answered through the response route before the call returned.
		s.logger.Warn("debit call failed after its response was handled", logger.Merge(fields, map[string]any{"error": err}))
		return ack, nil
	}
	if resp != nil {
		state, err := s.applyLegResult(ctx, resp)
		if err != nil {
			s.logger.Warn("synchronous debit response not applied", logger.Merge(fields, map[string]any{"error": err}))
			return ack, nil
		}
		ack.State = state
	}
	return ack, nil
}

// HandleLegResult applies a bank's RespPay to the leg it answers. A response
// nobody is waiting for returns a CORRELATION_MISS error; it only prompts an
// eviction pass so an expired leg it answers is recorded first.
func (s *SettlementService) HandleLegResult(ctx context.Context, resp *types.PayResponse) error {
	_, err := s.applyLegResult(ctx, resp)
	return err
}

// applyLegResult drives the transaction resp belongs to as far as it can go
// synchronously and returns the state it reached.
func (s *SettlementService) applyLegResult(ctx context.Context, resp *types.PayResponse) (types.TxnState, error) {
	if resp == nil {
		return "", types.NewError(types.ErrSchemaViolation, "RespPay is required")
	}
	if res := validation.ValidateMessage(resp); !res.Valid {
		return "", s.RejectLegResult(ctx, resp.Resp.ReqMsgID, res.Err())
	}

	leg, ok := types.LegOf(resp.Txn.Type)
	if !ok {
		s.metrics.IncCounter(metrics.EventProtocolError, nil)
		s.logger.Warn("RespPay is not a leg result", map[string]any{
			"req_msg_id": resp.Resp.ReqMsgID,
			"txn_type":   string(resp.Txn.Type),
		})
		return "", types.NewError(types.ErrProtocolError, fmt.Sprintf("RespPay with Txn.type %s is not a leg result", resp.Txn.Type))
	}

	c, ok := s.store.Take(pending.Key(leg, resp.Resp.ReqMsgID))
	if !ok {
		// An expired leg is still in the store. Evicting now records it
		// before its late response is dropped.
		if len(s.EvictExpired()) > 0 {
			s.noteLateResponse(resp)
		}
		return "", s.correlationMiss(leg, resp)
	}

	// A leg result is driven to the final response even if the caller that
	// delivered it goes away.
	ctx = context.WithoutCancel(ctx)
	s.metrics.IncCounter(metrics.EventLegSettled, legLabels(leg, string(resp.Resp.Result)))

	switch {
	case leg == types.LegDebit:
		return s.settleDebit(ctx, c, resp), nil
	case c.Reversal:
		s.settleReversal(c, resp)
		return c.State, nil
	default:
		return s.settleCredit(ctx, c, resp), nil
	}
}

// RejectLegResult handles a bank response that failed the schema gate. When
// reqMsgID still correlates, the originator gets FAILURE PROTOCOL_ERROR.
func (s *SettlementService) RejectLegResult(ctx context.Context, reqMsgID string, cause error) error {
	s.metrics.IncCounter(metrics.EventProtocolError, nil)
	fields := map[string]any{"req_msg_id": reqMsgID, "error": cause}
	err := types.WrapError(types.ErrProtocolError, "invalid RespPay", cause)

	if reqMsgID == "" {
		s.logger.Warn("invalid RespPay without reqMsgId", fields)
		return err
	}

	ctx = context.WithoutCancel(ctx)
	if c, ok := s.store.Take(pending.Key(types.LegDebit, reqMsgID)); ok {
		s.logger.Warn("invalid debit response", logger.Merge(c.Fields(), fields))
		s.transition(c, types.StateDebitSettled)
		s.respond(ctx, c, types.ResultFailure, types.ErrProtocolError, nil)
		return err
	}
	if c, ok := s.store.Take(pending.Key(types.LegCredit, reqMsgID)); ok {
		s.logger.Warn("invalid credit response", logger.Merge(c.Fields(), fields))
		s.transition(c, types.StateCreditSettled)
		if c.Reversal {
			s.finishReversal(c.LegMsgID, false, types.ErrProtocolError)
			return err
		}
		s.compensate(ctx, c, types.ErrProtocolError)
		s.respond(ctx, c, types.ResultFailure, types.ErrProtocolError, nil)
		return err
	}

	s.logger.Warn("invalid RespPay does not correlate", fields)
	return err
}

func (s *SettlementService) settleDebit(ctx context.Context, c *pending.Context, resp *types.PayResponse) types.TxnState {
	s.transition(c, types.StateDebitSettled)
	if !resp.Succeeded() {
		s.respond(ctx, c, types.ResultFailure, resp.Resp.ErrCode, nil)
		return types.StateResponded
	}
	return s.dispatchCredit(ctx, c)
}

func (s *SettlementService) dispatchCredit(ctx context.Context, debit *pending.Context) types.TxnState {
	c := newCreditContext(debit, s.cfg.OrgID, s.now())
	key := c.Key()
	leg := buildLeg(c, s.cfg.OrgID, types.TxnCredit)
	s.transition(c, types.StateCreditDispatched)
	// c belongs to whoever takes it once it is stored.
	fields := c.Fields()

	if err := s.store.Put(key, c); err != nil {
		s.logger.Error("credit context not stored", logger.Merge(fields, map[string]any{"error": err}))
		s.transition(c, types.StateCreditSettled)
		s.compensate(ctx, c, types.ErrInternal)
		s.respond(ctx, c, types.ResultFailure, types.ErrInternal, nil)
		return types.StateResponded
	}
	s.metrics.IncCounter(metrics.EventLegDispatched, legLabels(types.LegCredit, "dispatched"))

	resp, err := s.call(ctx, types.LegCredit, leg, s.credit.Credit)
	if err != nil {
		taken, ok := s.store.Take(key)
		if !ok {
			s.logger.Warn("credit call failed after its response was handled", logger.Merge(fields, map[string]any{"error": err}))
			return types.StateCreditDispatched
		}
		code := types.ErrProtocolError
		if clients.IsUnreachable(err) {
			code = types.ErrUpstreamUnreachable
		}
		s.transition(taken, types.StateCreditSettled)
		s.compensate(ctx, taken, code)
		s.respond(ctx, taken, types.ResultFailure, code, nil)
		return types.StateResponded
	}
	if resp == nil {
		return types.StateCreditDispatched
	}
	state, err := s.applyLegResult(ctx, resp)
	if err != nil {
		s.logger.Warn("synchronous credit response not applied", logger.Merge(fields, map[string]any{"error": err}))
		return types.StateCreditDispatched
	}
	return state
}

func (s *SettlementService) settleCredit(ctx context.Context, c *pending.Context, resp *types.PayResponse) types.TxnState {
	s.transition(c, types.StateCreditSettled)
	if resp.Succeeded() {
		s.respond(ctx, c, types.ResultSuccess, "", resp.Resp.Refs)
		return types.StateResponded
	}
	s.compensate(ctx, c, resp.Resp.ErrCode)
	s.respond(ctx, c, types.ResultFailure, resp.Resp.ErrCode, nil)
	return types.StateResponded
}

// respond sends the final response of c to the originator.
func (s *SettlementService) respond(ctx context.Context, c *pending.Context, result types.ResultCode, code string, refs []types.Ref) {
	s.transition(c, types.StateResponded)
	final := buildFinalResponse(c, s.cfg.OrgID, result, code, refs)
	fields := logger.Merge(c.Fields(), map[string]any{
		"result":   string(result),
		"err_code": code,
		"reply_to": c.ReplyTo,
	})

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := s.originator.Deliver(callCtx, c.ReplyTo, final)
	s.metrics.ObserveLatency("transaction", s.now().Sub(c.CreatedAt), map[string]string{metrics.LabelResult: string(result)})
	if err != nil {
		s.metrics.IncCounter(metrics.EventUnreachable, legLabels("originator", string(result)))
		s.logger.Error("final response not delivered", logger.Merge(fields, map[string]any{"error": err}))
		return
	}
	s.metrics.IncCounter(metrics.EventResponded, map[string]string{metrics.LabelResult: string(result)})
	s.logger.Info("final response delivered", logger.Merge(fields, map[string]any{"elapsed": time.Since(start).String()}))
}

type legCall func(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error)

func (s *SettlementService) call(ctx context.Context, leg types.Leg, req *types.PayRequest, fn legCall) (*types.PayResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := fn(callCtx, req)
	fields := map[string]any{
		"msg_id":  req.Head.MsgID,
		"txn_id":  req.Txn.ID,
		"leg":     string(leg),
		"elapsed": time.Since(start).String(),
	}
	switch {
	case err == nil:
		s.metrics.ObserveLatency("leg", time.Since(start), legLabels(leg, "ok"))
		s.logger.Debug("leg dispatched", logger.Merge(fields, map[string]any{"synchronous": resp != nil}))
		return resp, nil
	case clients.IsUnreachable(err):
		s.metrics.IncCounter(metrics.EventUnreachable, legLabels(leg, "unreachable"))
	default:
		s.metrics.IncCounter(metrics.EventProtocolError, legLabels(leg, "protocol_error"))
	}
	s.metrics.ObserveLatency("leg", time.Since(start), legLabels(leg, "error"))
	s.logger.Warn("leg dispatch failed", logger.Merge(fields, map[string]any{"error": err}))
	if _, ok := types.AsSwitchError(err); !ok {
		err = types.WrapError(types.ErrInternal, fmt.Sprintf("%s leg", leg), err)
	}
	return nil, err
}

func (s *SettlementService) correlationMiss(leg types.Leg, resp *types.PayResponse) error {
	s.metrics.IncCounter(metrics.EventCorrelationMiss, legLabels(leg, string(resp.Resp.Result)))
	s.logger.Warn("response does not correlate to a pending leg", map[string]any{
		"req_msg_id": resp.Resp.ReqMsgID,
		"msg_id":     resp.Head.MsgID,
		"txn_id":     resp.Txn.ID,
		"leg":        string(leg),
	})
	return types.NewError(types.ErrCorrelationMiss,
		fmt.Sprintf("no pending %s leg for reqMsgId %s", leg, resp.Resp.ReqMsgID))
}

func (s *SettlementService) transition(c *pending.Context, next types.TxnState) bool {
	from := c.State
	if !c.Advance(next) {
		s.logger.Error("illegal state transition", logger.Merge(c.Fields(), map[string]any{"to": string(next)}))
		return false
	}
	s.logger.Info("state transition", logger.Merge(c.Fields(), map[string]any{"from": string(from)}))
	return true
}

func seenKey(h types.Head) string {
	return h.OrgID + "/" + h.MsgID
}

func legLabels(leg types.Leg, result string) map[string]string {
	return map[string]string{metrics.LabelLeg: string(leg), metrics.LabelResult: result}
}
