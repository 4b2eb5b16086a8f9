// Package upiswitch provides a payment switch that routes UPI-style XML
// messages between a payer PSP, a payee PSP and the two banks of a payment.
package upiswitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/lookup"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/settlement"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/validation"
)

// Switch is the main struct that provides all switch functionality
type Switch struct {
	settlementService *settlement.SettlementService
	lookupService     *lookup.LookupService
	config            *types.SwitchConfig

	store      pending.Store
	debit      clients.DebitCollaborator
	credit     clients.CreditCollaborator
	originator clients.Originator
	directory  clients.AddressDirectory
	reverser   clients.Reverser

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	owned []*clients.HTTPCollaborator

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Switch. Collaborators not supplied through options are
// built as HTTP clients from config.Collaborators.
func New(config *types.SwitchConfig, opts ...Option) (*Switch, error) {
	if config == nil {
		config = types.DefaultSwitchConfig()
	}
	cfg := *config

	s := &Switch{
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout > 0 {
		cfg.DefaultTimeout = s.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.config = &cfg

	if err := s.buildCollaborators(); err != nil {
		s.Close()
		return nil, err
	}
	if s.store == nil {
		s.store = pending.NewMemoryStore(pending.WithTTL(cfg.PendingTTL))
	}

	settleOpts := []settlement.Option{
		settlement.WithLogger(s.logger),
		settlement.WithMetrics(s.metrics),
	}
	if s.reverser != nil {
		settleOpts = append(settleOpts, settlement.WithReverser(s.reverser))
	}
	svc, err := settlement.NewSettlementService(settlement.ConfigFrom(&cfg), s.store, s.debit, s.credit, s.originator, settleOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.settlementService = svc

	if s.directory != nil {
		s.lookupService, err = lookup.NewLookupService(s.directory,
			lookup.WithTimeout(cfg.TimeoutFor(types.RolePayeePSP)),
			lookup.WithLogger(s.logger),
			lookup.WithMetrics(s.metrics),
		)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	s.logger.Info("switch configured", map[string]any{
		"org_id":          cfg.OrgID,
		"reversal_policy": string(cfg.ReversalPolicy),
		"pending_ttl":     cfg.PendingTTL.String(),
		"lookup":          s.lookupService != nil,
	})
	return s, nil
}

// NewWithDefaults creates a new Switch with default configuration
func NewWithDefaults(opts ...Option) (*Switch, error) {
	return New(types.DefaultSwitchConfig(), opts...)
}

func (s *Switch) buildCollaborators() error {
	var err error
	if s.debit == nil {
		var c *clients.HTTPCollaborator
		if c, err = s.httpCollaborator(types.RoleRemitterBank); err != nil {
			return err
		}
		s.debit = c
	}
	if s.credit == nil {
		var c *clients.HTTPCollaborator
		if c, err = s.httpCollaborator(types.RoleBeneficiaryBank); err != nil {
			return err
		}
		s.credit = c
	}
	if s.originator == nil {
		var c *clients.HTTPCollaborator
		if c, err = s.httpCollaborator(types.RolePayerPSP); err != nil {
			return err
		}
		s.originator = c
	}
	if s.directory == nil {
		if _, ok := s.config.Collaborators[types.RolePayeePSP]; ok {
			var c *clients.HTTPCollaborator
			if c, err = s.httpCollaborator(types.RolePayeePSP); err != nil {
				return err
			}
			s.directory = c
		}
	}
	return nil
}

func (s *Switch) httpCollaborator(role types.CollaboratorRole) (*clients.HTTPCollaborator, error) {
	cc, ok := s.config.Collaborators[role]
	if !ok {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("collaborators.%s is not configured", role))
	}
	cc.Timeout = s.config.TimeoutFor(role)
	if cc.RetryCount == 0 {
		cc.RetryCount = s.config.RetryCount
	}

	c, err := clients.NewHTTPCollaborator(role, cc,
		clients.WithLogger(s.logger),
		clients.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}
	s.owned = append(s.owned, c)
	return c, nil
}

// SubmitPayment accepts a decoded PAY request from the originator.
func (s *Switch) SubmitPayment(ctx context.Context, req *types.PayRequest, replyTo string) (*settlement.Ack, error) {
	return s.settlementService.Initiate(ctx, req, replyTo)
}

// SubmitPaymentXML runs a raw ReqPay through the schema gate and accepts it.
func (s *Switch) SubmitPaymentXML(ctx context.Context, raw []byte, replyTo string) (*settlement.Ack, error) {
	if res := validation.ValidateDocument(types.MessageReqPay, raw); !res.Valid {
		s.metrics.IncCounter(metrics.EventRejected, nil)
		s.logger.Info("ReqPay rejected", map[string]any{"violations": res.Fields()})
		return nil, res.Err()
	}
	req, err := codec.DecodePayRequest(raw)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedMessage, "decode ReqPay", err)
	}
	return s.SubmitPayment(ctx, req, replyTo)
}

// HandleResponse applies a decoded bank RespPay.
func (s *Switch) HandleResponse(ctx context.Context, resp *types.PayResponse) error {
	return s.settlementService.HandleLegResult(ctx, resp)
}

// HandleResponseXML applies a raw bank RespPay. A document that fails the
// schema gate still fails its transaction when its reqMsgId can be read.
func (s *Switch) HandleResponseXML(ctx context.Context, raw []byte) error {
	res := validation.ValidateDocument(types.MessageRespPay, raw)
	if !res.Valid {
		reqMsgID := ""
		if resp, err := codec.DecodePayResponse(raw); err == nil {
			reqMsgID = resp.Resp.ReqMsgID
		}
		_ = s.settlementService.RejectLegResult(ctx, reqMsgID, res.Err())
		return res.Err()
	}
	resp, err := codec.DecodePayResponse(raw)
	if err != nil {
		return types.WrapError(types.ErrMalformedMessage, "decode RespPay", err)
	}
	return s.HandleResponse(ctx, resp)
}

// ResolveAddress relays a raw ReqValAdd and returns the encoded RespValAdd.
func (s *Switch) ResolveAddress(ctx context.Context, raw []byte) ([]byte, error) {
	if s.lookupService == nil {
		return nil, types.NewError(types.ErrConfigError, "no address directory configured")
	}
	return s.lookupService.Resolve(ctx, raw)
}

// ResolveAddressRequest relays a decoded ReqValAdd.
func (s *Switch) ResolveAddressRequest(ctx context.Context, req *types.ValAddRequest) (*types.ValAddResponse, error) {
	if s.lookupService == nil {
		return nil, types.NewError(types.ErrConfigError, "no address directory configured")
	}
	return s.lookupService.ResolveRequest(ctx, req)
}

// Reconciliations lists payments whose debit executed without a credit.
func (s *Switch) Reconciliations() []settlement.Reconciliation {
	return s.settlementService.Reconciliations()
}

// Pending lists the legs awaiting a bank response.
func (s *Switch) Pending() []string {
	return s.settlementService.Pending()
}

// Config returns the effective configuration.
func (s *Switch) Config() types.SwitchConfig {
	return *s.config
}

// Start runs the eviction janitor until Close is called or ctx is done.
func (s *Switch) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.settlementService.RunJanitor(ctx, s.config.EvictInterval)
	}(s.done)
}

// Close stops the janitor and closes all client connections
func (s *Switch) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, c := range s.owned {
		c.Close()
	}
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = types.DefaultVersion
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_messages": []string{
			string(types.MessageReqPay), string(types.MessageRespPay),
			string(types.MessageReqValAdd), string(types.MessageRespValAdd),
		},
		"reversal_policies": []string{
			string(types.ReversalManual), string(types.ReversalAuto),
		},
	}
}
