package simulator

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Banks holding the demo accounts.
const (
	RemitterBankCode    = "SBI"
	BeneficiaryBankCode = "HDFC"
)

// Seed is the fixture set the simulated collaborators start from.
type Seed struct {
	Accounts []Account `yaml:"accounts"`
	Users    []User    `yaml:"users"`
	Profiles []Profile `yaml:"profiles"`
}

// DefaultSeed returns the built-in demo fixtures.
func DefaultSeed() *Seed {
	s, err := ParseSeed(defaultSeed)
	if err != nil {
		panic(err)
	}
	return s
}

// LoadSeed reads fixtures from a YAML file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, a := range s.Accounts {
		if a.Addr == "" {
			return nil, fmt.Errorf("parse seed: account %d has no addr", i)
		}
	}
	return &s, nil
}

// AccountsAt returns the accounts held by bank.
func (s *Seed) AccountsAt(bank string) []Account {
	var out []Account
	for _, a := range s.Accounts {
		if a.Bank == bank {
			out = append(out, a)
		}
	}
	return out
}

// SeedAccounts writes the accounts of bank into store.
func (s *Seed) SeedAccounts(ctx context.Context, store AccountStore, bank string) error {
	for _, a := range s.AccountsAt(bank) {
		if err := store.Put(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
