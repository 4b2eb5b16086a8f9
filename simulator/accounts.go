// Package simulator provides in-process stand-ins for the banks and PSPs the
// switch talks to. They follow the business rules of the demo deployment and
// can be served over HTTP for local end-to-end runs.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vitwit/upiswitch/types"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is a bank account addressed by its payment address.
type Account struct {
	Addr    string      `yaml:"addr" json:"addr"`
	Name    string      `yaml:"name" json:"name"`
	Bank    string      `yaml:"bank" json:"bank"`
	Balance types.Money `yaml:"balance" json:"balance"`
}

// AccountStore holds balances. Withdraw and Deposit are atomic per account
// and return the balance after the change.
type AccountStore interface {
	Get(ctx context.Context, addr string) (Account, error)
	Put(ctx context.Context, acc Account) error
	Withdraw(ctx context.Context, addr string, amount decimal.Decimal) (types.Money, error)
	Deposit(ctx context.Context, addr string, amount decimal.Decimal) (types.Money, error)
}

// MemoryAccountStore keeps accounts in a map.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

var _ AccountStore = (*MemoryAccountStore)(nil)

func NewMemoryAccountStore(accounts ...Account) *MemoryAccountStore {
	s := &MemoryAccountStore{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		s.accounts[a.Addr] = a
	}
	return s
}

func (s *MemoryAccountStore) Get(_ context.Context, addr string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[addr]
	if !ok {
		return Account{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	return acc, nil
}

func (s *MemoryAccountStore) Put(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Addr] = acc
	return nil
}

func (s *MemoryAccountStore) Withdraw(_ context.Context, addr string, amount decimal.Decimal) (types.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[addr]
	if !ok {
		return types.Money{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	if acc.Balance.LessThan(amount) {
		return acc.Balance, fmt.Errorf("%s: %w", addr, ErrInsufficientFunds)
	}
	acc.Balance = types.MoneyFromDecimal(acc.Balance.Sub(amount))
	s.accounts[addr] = acc
	return acc.Balance, nil
}

func (s *MemoryAccountStore) Deposit(_ context.Context, addr string, amount decimal.Decimal) (types.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[addr]
	if !ok {
		return types.Money{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	acc.Balance = types.MoneyFromDecimal(acc.Balance.Add(amount))
	s.accounts[addr] = acc
	return acc.Balance, nil
}

// List returns every account ordered by address.
func (s *MemoryAccountStore) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
