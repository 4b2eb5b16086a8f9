package types

// TxnState is the per-transaction protocol state, keyed by the msgId of the
// initiating request.
type TxnState string

const (
	StateReceived         TxnState = "RECEIVED"
	StateDebitDispatched  TxnState = "DEBIT_DISPATCHED"
	StateDebitSettled     TxnState = "DEBIT_SETTLED"
	StateCreditDispatched TxnState = "CREDIT_DISPATCHED"
	StateCreditSettled    TxnState = "CREDIT_SETTLED"
	StateResponded        TxnState = "RESPONDED"
)

var transitions = map[TxnState][]TxnState{
	StateReceived:         {StateDebitDispatched},
	StateDebitDispatched:  {StateDebitSettled},
	StateDebitSettled:     {StateCreditDispatched, StateResponded},
	StateCreditDispatched: {StateCreditSettled},
	StateCreditSettled:    {StateResponded},
}

// CanTransition reports whether the protocol allows moving from one state to another.
func CanTransition(from, to TxnState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends the transaction.
func (s TxnState) IsTerminal() bool {
	return s == StateResponded
}

func (s TxnState) String() string {
	return string(s)
}

// Leg names one half of the two-phase settlement.
type Leg string

const (
	LegDebit  Leg = "debit"
	LegCredit Leg = "credit"
)

// LegOf maps a leg Txn.type to its leg.
func LegOf(t TxnType) (Leg, bool) {
	switch t {
	case TxnDebit:
		return LegDebit, true
	case TxnCredit:
		return LegCredit, true
	}
	return "", false
}

// ReversalPolicy decides what happens to an executed debit whose credit leg failed.
type ReversalPolicy string

const (
	// ReversalManual records the partial settlement for reconciliation and
	// moves no money.
	ReversalManual ReversalPolicy = "manual"
	// ReversalAuto sends a compensating credit back to the payer's bank.
	ReversalAuto ReversalPolicy = "auto"
)

// Valid reports whether p is a known policy.
func (p ReversalPolicy) Valid() bool {
	return p == ReversalManual || p == ReversalAuto
}
