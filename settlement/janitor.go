package settlement

import (
	"context"
	"time"

	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/pending"
	"github.com/vitwit/upiswitch/types"
)

// EvictExpired drops legs that waited longer than the pending TTL and sweeps
// expired message ids. A credit leg evicted this way leaves an executed debit
// behind, so it is recorded for reconciliation.
func (s *SettlementService) EvictExpired() []*pending.Context {
	evicted := s.store.EvictOlderThan(s.cfg.PendingTTL)
	for _, c := range evicted {
		s.metrics.IncCounter(metrics.EventEvicted, legLabels(c.Leg, string(c.State)))
		s.logger.Warn("pending leg evicted without a response", c.Fields())

		switch {
		case c.Leg != types.LegCredit:
		case c.Reversal:
			s.finishReversal(c.LegMsgID, false, "no response before eviction")
		default:
			s.record(Reconciliation{
				OriginMsgID: c.OriginMsgID,
				TxnID:       c.Txn.ID,
				CreditMsgID: c.LegMsgID,
				PayerAddr:   c.Payer.Addr,
				PayeeAddr:   c.Payee().Addr,
				Amount:      c.Amount,
				ErrCode:     types.ErrUpstreamUnreachable,
				Policy:      types.ReversalManual,
				Status:      ReconciliationOpen,
				Detail:      "credit outcome unknown",
				RecordedAt:  s.now(),
			})
			s.metrics.IncCounter(metrics.EventReconciliation, legLabels(types.LegCredit, types.ErrUpstreamUnreachable))
		}
	}

	swept := s.seen.Sweep()
	s.metrics.SetGauge("pending_legs", float64(s.store.Len()))
	s.metrics.SetGauge("seen_messages", float64(s.seen.Len()))
	if len(evicted) > 0 || swept > 0 {
		s.logger.Debug("janitor pass", map[string]any{"evicted": len(evicted), "swept": swept})
	}
	return evicted
}

// noteLateResponse attaches the outcome of a credit leg that answered after
// its eviction to the open reconciliation entry.
func (s *SettlementService) noteLateResponse(resp *types.PayResponse) {
	detail := "late credit response: " + string(resp.Resp.Result)
	if resp.Resp.ErrCode != "" {
		detail += " " + resp.Resp.ErrCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reconciliations {
		r := &s.reconciliations[i]
		if r.CreditMsgID == resp.Resp.ReqMsgID && r.Status == ReconciliationOpen {
			r.Detail = detail
		}
	}
}

// RunJanitor calls EvictExpired every interval until ctx is done.
func (s *SettlementService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.PendingTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("janitor started", map[string]any{
		"interval":    interval.String(),
		"pending_ttl": s.cfg.PendingTTL.String(),
	})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}
