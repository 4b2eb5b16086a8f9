// Package lookup relays address validation between the payer side and the
// directory that owns the address.
package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/validation"
)

const defaultTimeout = 5 * time.Second

// LookupService validates a ReqValAdd, asks the directory and validates its
// answer. It keeps no state between calls.
type LookupService struct {
	directory clients.AddressDirectory
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*LookupService)

func WithTimeout(d time.Duration) Option {
	return func(s *LookupService) {
		s.timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *LookupService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *LookupService) {
		s.metrics = r
	}
}

// NewLookupService creates a relay to directory.
func NewLookupService(directory clients.AddressDirectory, opts ...Option) (*LookupService, error) {
	if directory == nil {
		return nil, types.NewError(types.ErrConfigError, "lookup: address directory is required")
	}
	s := &LookupService{
		directory: directory,
		timeout:   defaultTimeout,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	return s, nil
}

// Resolve takes a raw ReqValAdd and returns the encoded RespValAdd.
func (s *LookupService) Resolve(ctx context.Context, raw []byte) ([]byte, error) {
	if res := validation.ValidateDocument(types.MessageReqValAdd, raw); !res.Valid {
		s.metrics.IncCounter(metrics.EventLookup, map[string]string{metrics.LabelResult: "rejected"})
		return nil, res.Err()
	}
	req, err := codec.DecodeValAddRequest(raw)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedMessage, "decode ReqValAdd", err)
	}

	resp, err := s.ResolveRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := codec.Encode(resp)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "encode RespValAdd", err)
	}
	return out, nil
}

// ResolveRequest relays a decoded ReqValAdd.
func (s *LookupService) ResolveRequest(ctx context.Context, req *types.ValAddRequest) (*types.ValAddResponse, error) {
	if res := validation.ValidateMessage(req); !res.Valid {
		s.metrics.IncCounter(metrics.EventLookup, map[string]string{metrics.LabelResult: "rejected"})
		return nil, res.Err()
	}

	fields := map[string]any{
		"msg_id": req.Head.MsgID,
		"txn_id": req.Txn.ID,
		"payee":  req.Payee.Addr,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.directory.Resolve(callCtx, req)
	if err != nil {
		result := "protocol_error"
		if clients.IsUnreachable(err) {
			result = "unreachable"
		}
		s.metrics.IncCounter(metrics.EventLookup, map[string]string{metrics.LabelResult: result})
		s.logger.Warn("address lookup failed", logger.Merge(fields, map[string]any{"error": err}))
		return nil, err
	}
	if err := s.checkResponse(req, resp); err != nil {
		s.metrics.IncCounter(metrics.EventLookup, map[string]string{metrics.LabelResult: "protocol_error"})
		s.logger.Warn("directory answered with an invalid RespValAdd", logger.Merge(fields, map[string]any{"error": err}))
		return nil, err
	}

	s.metrics.ObserveLatency("lookup", time.Since(start), map[string]string{metrics.LabelResult: string(resp.Resp.Result)})
	s.metrics.IncCounter(metrics.EventLookup, map[string]string{metrics.LabelResult: string(resp.Resp.Result)})
	s.logger.Info("address lookup completed", logger.Merge(fields, map[string]any{
		"result":   string(resp.Resp.Result),
		"err_code": resp.Resp.ErrCode,
	}))
	return resp, nil
}

func (s *LookupService) checkResponse(req *types.ValAddRequest, resp *types.ValAddResponse) error {
	if resp == nil {
		return types.NewError(types.ErrProtocolError, "directory returned no RespValAdd")
	}
	if resp.Resp.ReqMsgID == "" {
		resp.Resp.ReqMsgID = req.Head.MsgID
	}
	if resp.Resp.ReqMsgID != req.Head.MsgID {
		return types.NewError(types.ErrProtocolError,
			fmt.Sprintf("RespValAdd answers %s, expected %s", resp.Resp.ReqMsgID, req.Head.MsgID))
	}
	if res := validation.ValidateMessage(resp); !res.Valid {
		return types.WrapError(types.ErrProtocolError, "invalid RespValAdd", res.Err())
	}
	return nil
}
