// Package clients holds the collaborator contracts the switch calls out to
// and their HTTP implementations.
package clients

import (
	"context"

	"github.com/vitwit/upiswitch/types"
)

// A collaborator method returning (nil, nil) accepted the request and will
// deliver its response later through the switch's inbound response route.

// DebitCollaborator is the remitter bank: it debits the payer.
type DebitCollaborator interface {
	Debit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error)
}

// CreditCollaborator is the beneficiary bank: it credits the payee.
type CreditCollaborator interface {
	Credit(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error)
}

// Reverser returns an executed debit to the payer. Debit collaborators that
// implement it enable automatic reversal.
type Reverser interface {
	Reverse(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error)
}

// AddressDirectory is the payee PSP answering address validation.
type AddressDirectory interface {
	Resolve(ctx context.Context, req *types.ValAddRequest) (*types.ValAddResponse, error)
}

// Originator receives the final response of a payment.
type Originator interface {
	Deliver(ctx context.Context, replyTo string, resp *types.PayResponse) error
}
