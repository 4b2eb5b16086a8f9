package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
	"github.com/vitwit/upiswitch/validation"
)

const (
	contentTypeXML  = "application/xml"
	maxResponseSize = 1 << 20
	defaultTimeout  = 5 * time.Second
)

// HTTPCollaborator posts XML messages to one collaborator endpoint.
type HTTPCollaborator struct {
	role       types.CollaboratorRole
	url        string
	timeout    time.Duration
	headers    map[string]string
	idempotent bool
	retries    int

	httpClient *http.Client
	logger     logger.Logger
	metrics    metrics.Recorder
}

var (
	_ DebitCollaborator  = (*HTTPCollaborator)(nil)
	_ CreditCollaborator = (*HTTPCollaborator)(nil)
	_ Reverser           = (*HTTPCollaborator)(nil)
	_ AddressDirectory   = (*HTTPCollaborator)(nil)
	_ Originator         = (*HTTPCollaborator)(nil)
)

type HTTPOption func(*HTTPCollaborator)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPCollaborator) {
		h.httpClient = c
	}
}

func WithLogger(l logger.Logger) HTTPOption {
	return func(h *HTTPCollaborator) {
		h.logger = l
	}
}

func WithMetrics(r metrics.Recorder) HTTPOption {
	return func(h *HTTPCollaborator) {
		h.metrics = r
	}
}

// NewHTTPCollaborator creates a client for the collaborator at cfg.URL.
func NewHTTPCollaborator(role types.CollaboratorRole, cfg types.CollaboratorConfig, opts ...HTTPOption) (*HTTPCollaborator, error) {
	if cfg.URL == "" {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("%s: url is required", role))
	}

	h := &HTTPCollaborator{
		role:       role,
		url:        cfg.URL,
		timeout:    cfg.Timeout,
		headers:    cfg.Headers,
		idempotent: cfg.Idempotent,
		retries:    cfg.RetryCount,
		httpClient: &http.Client{},
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	if h.timeout <= 0 {
		h.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Role returns the collaborator role the client was built for.
func (h *HTTPCollaborator) Role() types.CollaboratorRole {
	return h.role
}

func (h *HTTPCollaborator) Debit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return h.pay(ctx, req)
}

func (h *HTTPCollaborator) Credit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return h.pay(ctx, req)
}

// Reverse posts the compensating CREDIT to the same endpoint as the debit.
func (h *HTTPCollaborator) Reverse(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	return h.pay(ctx, req)
}

func (h *HTTPCollaborator) pay(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	body, err := codec.Encode(req)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "encode ReqPay", err)
	}

	res, err := h.post(ctx, h.url, body, req.Head.MsgID)
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusAccepted:
		return nil, nil
	case res.status >= 200 && res.status < 300:
		if len(bytes.TrimSpace(res.body)) == 0 {
			return nil, nil
		}
		if !res.isXML() {
			return nil, ProtocolError(h.role, "RespPay must be XML, got "+res.contentType, nil)
		}
		if vr := validation.ValidateDocument(types.MessageRespPay, res.body); !vr.Valid {
			return nil, ProtocolError(h.role, "invalid RespPay", vr.Err())
		}
		resp, err := codec.DecodePayResponse(res.body)
		if err != nil {
			return nil, ProtocolError(h.role, "invalid RespPay", err)
		}
		return resp, nil
	case res.status >= 400 && res.status < 500:
		code, err := h.rejectionCode(res)
		if err != nil {
			return nil, err
		}
		return FailureResponse(orgIDFor(h.role), req, code), nil
	default:
		return nil, ProtocolError(h.role, fmt.Sprintf("unexpected status %d", res.status), nil)
	}
}

// Resolve relays address validation synchronously.
func (h *HTTPCollaborator) Resolve(ctx context.Context, req *types.ValAddRequest) (*types.ValAddResponse, error) {
	body, err := codec.Encode(req)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "encode ReqValAdd", err)
	}

	res, err := h.post(ctx, h.url, body, req.Head.MsgID)
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusOK && len(bytes.TrimSpace(res.body)) > 0 && res.isXML():
		if vr := validation.ValidateDocument(types.MessageRespValAdd, res.body); !vr.Valid {
			return nil, ProtocolError(h.role, "invalid RespValAdd", vr.Err())
		}
		resp, err := codec.DecodeValAddResponse(res.body)
		if err != nil {
			return nil, ProtocolError(h.role, "invalid RespValAdd", err)
		}
		return resp, nil
	case res.status >= 400 && res.status < 500:
		code, err := h.rejectionCode(res)
		if err != nil {
			return nil, err
		}
		return ValAddFailure(orgIDFor(h.role), req, code, ""), nil
	default:
		return nil, ProtocolError(h.role, fmt.Sprintf("expected a RespValAdd, got status %d", res.status), nil)
	}
}

// Deliver posts the final response to replyTo, or to the configured endpoint
// when replyTo is empty.
func (h *HTTPCollaborator) Deliver(ctx context.Context, replyTo string, resp *types.PayResponse) error {
	body, err := codec.Encode(resp)
	if err != nil {
		return types.WrapError(types.ErrInternal, "encode RespPay", err)
	}

	url := replyTo
	if url == "" {
		url = h.url
	}

	res, err := h.post(ctx, url, body, resp.Head.MsgID)
	if err != nil {
		return err
	}
	if res.status < 200 || res.status >= 300 {
		return ProtocolError(h.role, fmt.Sprintf("final response rejected with status %d", res.status), nil)
	}
	return nil
}

// Close releases idle connections.
func (h *HTTPCollaborator) Close() {
	h.httpClient.CloseIdleConnections()
}

type httpResult struct {
	status      int
	contentType string
	body        []byte
}

func (r *httpResult) isXML() bool {
	return r.contentType == "" || strings.Contains(r.contentType, "xml")
}

func (h *HTTPCollaborator) post(ctx context.Context, url string, body []byte, msgID string) (*httpResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	retries := 0
	if h.idempotent {
		retries = h.retries
	}
	retrier := utils.NewBoundedRetrier[*httpResult](retries, h.logger)

	start := time.Now()
	res, err := retrier.DoWithReturn(callCtx, func() (*httpResult, error) {
		return h.once(callCtx, url, body)
	})

	fields := map[string]any{
		"role":    string(h.role),
		"url":     url,
		"msg_id":  msgID,
		"elapsed": time.Since(start).String(),
	}
	labels := map[string]string{metrics.LabelLeg: string(h.role)}
	if err != nil {
		fields["error"] = err
		labels[metrics.LabelResult] = "unreachable"
		h.logger.Warn("collaborator call failed", fields)
		h.metrics.ObserveLatency("collaborator_call", time.Since(start), labels)
		return nil, err
	}

	fields["status"] = res.status
	labels[metrics.LabelResult] = http.StatusText(res.status)
	h.logger.Debug("collaborator call completed", fields)
	h.metrics.ObserveLatency("collaborator_call", time.Since(start), labels)
	return res, nil
}

func (h *HTTPCollaborator) once(ctx context.Context, url string, body []byte) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, fmt.Sprintf("%s: bad url", h.role), err)
	}
	req.Header.Set("Content-Type", contentTypeXML)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, Unreachable(h.role, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, Unreachable(h.role, err)
	}
	if resp.StatusCode >= 500 {
		return nil, Unreachable(h.role, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	return &httpResult{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

// rejectionCode reads the business error code of a 4xx answer.
func (h *HTTPCollaborator) rejectionCode(res *httpResult) (string, error) {
	eb, err := utils.ParseErrorBody(res.body)
	if err != nil {
		return "", ProtocolError(h.role, fmt.Sprintf("status %d without error code", res.status), err)
	}
	return eb.Error, nil
}

func orgIDFor(role types.CollaboratorRole) string {
	return strings.ToUpper(string(role))
}
