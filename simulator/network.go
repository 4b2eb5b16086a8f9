package simulator

import (
	"context"
	"fmt"

	"github.com/vitwit/upiswitch/logger"
)

// Network is the full set of simulated collaborators built from one seed.
type Network struct {
	Remitter    *Bank
	Beneficiary *Bank
	Directory   *Directory
	Payer       *PayerPSP
}

// NewNetwork seeds the two account stores and builds every collaborator.
// Payer accounts go to remitterStore, payee accounts to beneficiaryStore.
func NewNetwork(ctx context.Context, seed *Seed, remitterStore, beneficiaryStore AccountStore, l logger.Logger) (*Network, error) {
	if seed == nil {
		seed = DefaultSeed()
	}
	if l == nil {
		l = logger.NoopLogger{}
	}
	if err := seed.SeedAccounts(ctx, remitterStore, RemitterBankCode); err != nil {
		return nil, fmt.Errorf("seed remitter accounts: %w", err)
	}
	if err := seed.SeedAccounts(ctx, beneficiaryStore, BeneficiaryBankCode); err != nil {
		return nil, fmt.Errorf("seed beneficiary accounts: %w", err)
	}

	return &Network{
		Remitter:    NewRemitterBank(remitterStore, WithLogger(l)),
		Beneficiary: NewBeneficiaryBank(beneficiaryStore, WithLogger(l)),
		Directory:   NewDirectory(seed.Profiles, WithLogger(l)),
		Payer:       NewPayerPSP(seed.Users, WithLogger(l)),
	}, nil
}

// NewMemoryNetwork is NewNetwork over in-memory stores.
func NewMemoryNetwork(seed *Seed, l logger.Logger) *Network {
	n, err := NewNetwork(context.Background(), seed, NewMemoryAccountStore(), NewMemoryAccountStore(), l)
	if err != nil {
		// memory stores never fail to seed
		panic(err)
	}
	return n
}
