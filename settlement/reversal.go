package settlement

import (
	"context"
	"time"

	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/types"
)

// ReconciliationStatus tracks a partially settled payment.
type ReconciliationStatus string

const (
	// ReconciliationOpen waits for an operator.
	ReconciliationOpen      ReconciliationStatus = "OPEN"
	ReconciliationReversing ReconciliationStatus = "REVERSING"
	ReconciliationReversed  ReconciliationStatus = "REVERSED"
	// ReconciliationFailed is a reversal the payer's bank declined or never answered.
	ReconciliationFailed ReconciliationStatus = "REVERSAL_FAILED"
)

// Reconciliation records a payment whose debit executed but whose credit did not.
type Reconciliation struct {
	OriginMsgID   string               `json:"originMsgId"`
	TxnID         string               `json:"txnId"`
	CreditMsgID   string               `json:"creditMsgId"`
	PayerAddr     string               `json:"payerAddr"`
	PayeeAddr     string               `json:"payeeAddr"`
	Amount        types.Amount         `json:"amount"`
	ErrCode       string               `json:"errCode"`
	Policy        types.ReversalPolicy `json:"policy"`
	Status        ReconciliationStatus `json:"status"`
	ReversalMsgID string               `json:"reversalMsgId,omitempty"`
	Detail        string               `json:"detail,omitempty"`
	RecordedAt    time.Time            `json:"recordedAt"`
}

// Reconciliations returns the partial settlements recorded so far, oldest first.
func (s *SettlementService) Reconciliations() []Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reconciliation, len(s.reconciliations))
	copy(out, s.reconciliations)
	return out
}

// compensate applies the reversal policy to a credit leg that did not settle.
func (s *SettlementService) compensate(ctx context.Context, c *pending.Context, code string) {
	entry := Reconciliation{
		OriginMsgID: c.OriginMsgID,
		TxnID:       c.Txn.ID,
		CreditMsgID: c.LegMsgID,
		PayerAddr:   c.Payer.Addr,
		PayeeAddr:   c.Payee().Addr,
		Amount:      c.Amount,
		ErrCode:     code,
		Policy:      s.cfg.ReversalPolicy,
		Status:      ReconciliationOpen,
		RecordedAt:  s.now(),
	}
	fields := logger.Merge(c.Fields(), map[string]any{"err_code": code, "policy": string(s.cfg.ReversalPolicy)})
	s.metrics.IncCounter(metrics.EventReconciliation, legLabels(types.LegCredit, code))

	if s.cfg.ReversalPolicy != types.ReversalAuto {
		s.record(entry)
		s.logger.Warn("partial settlement recorded for reconciliation", fields)
		return
	}
	if s.reverser == nil {
		entry.Detail = "no collaborator accepts reversals"
		s.record(entry)
		s.logger.Warn("partial settlement cannot be reversed", fields)
		return
	}

	rc := newReversalContext(c, s.cfg.OrgID, s.now())
	key := rc.Key()
	entry.Status = ReconciliationReversing
	entry.ReversalMsgID = rc.LegMsgID
	s.record(entry)

	if err := s.store.Put(key, rc); err != nil {
		s.finishReversal(rc.LegMsgID, false, err.Error())
		return
	}
	s.metrics.IncCounter(metrics.EventReversal, legLabels(types.LegCredit, "dispatched"))
	s.logger.Info("reversal dispatched", logger.Merge(fields, map[string]any{"reversal_msg_id": rc.LegMsgID}))

	resp, err := s.call(ctx, types.LegCredit, buildLeg(rc, s.cfg.OrgID, types.TxnCredit), s.reverser.Reverse)
	if err != nil {
		if _, ok := s.store.Take(key); ok {
			s.finishReversal(rc.LegMsgID, false, err.Error())
		}
		return
	}
	if resp != nil {
		if err := s.HandleLegResult(ctx, resp); err != nil {
			s.logger.Warn("synchronous reversal response not applied", logger.Merge(rc.Fields(), map[string]any{"error": err}))
		}
	}
}

func (s *SettlementService) settleReversal(c *pending.Context, resp *types.PayResponse) {
	s.transition(c, types.StateCreditSettled)
	s.finishReversal(c.LegMsgID, resp.Succeeded(), resp.Resp.ErrCode)
}

func (s *SettlementService) finishReversal(msgID string, ok bool, detail string) {
	status := ReconciliationFailed
	if ok {
		status = ReconciliationReversed
	}

	s.mu.Lock()
	for i := range s.reconciliations {
		if s.reconciliations[i].ReversalMsgID == msgID {
			s.reconciliations[i].Status = status
			s.reconciliations[i].Detail = detail
		}
	}
	s.mu.Unlock()

	s.metrics.IncCounter(metrics.EventReversal, legLabels(types.LegCredit, string(status)))
	fields := map[string]any{"reversal_msg_id": msgID, "status": string(status), "detail": detail}
	if ok {
		s.logger.Info("reversal settled", fields)
		return
	}
	s.logger.Error("reversal failed", fields)
}

func (s *SettlementService) record(entry Reconciliation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciliations = append(s.reconciliations, entry)
}
