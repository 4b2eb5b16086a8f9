package simulator

import (
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/types"
)

// DemoBlockedCode is the party code the demo collaborators refuse.
const DemoBlockedCode = "1111"

// Org ids the simulated collaborators sign their responses with.
const (
	RemitterBankOrgID    = "REM_BANK"
	BeneficiaryBankOrgID = "BENE_BANK"
	PayeePSPOrgID        = "PAYEE_PSP"
	PayerPSPOrgID        = "PAYER_PSP"
)

type settings struct {
	orgID     string
	logger    logger.Logger
	blocked   map[string]bool
	minAmount *types.Money
	purposes  map[string]string
}

func newSettings(orgID string, opts []Option) settings {
	s := settings{
		orgID:   orgID,
		logger:  logger.NoopLogger{},
		blocked: map[string]bool{DemoBlockedCode: true},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type Option func(*settings)

func WithOrgID(orgID string) Option {
	return func(s *settings) {
		s.orgID = orgID
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithBlockedCodes replaces the set of refused party codes.
func WithBlockedCodes(codes ...string) Option {
	return func(s *settings) {
		s.blocked = make(map[string]bool, len(codes))
		for _, c := range codes {
			s.blocked[c] = true
		}
	}
}

// WithMinAmount overrides the smallest amount a bank settles.
func WithMinAmount(m types.Money) Option {
	return func(s *settings) {
		s.minAmount = &m
	}
}

// WithPurposes sets the purpose codes a remitter bank accepts.
func WithPurposes(purposes map[string]string) Option {
	return func(s *settings) {
		s.purposes = purposes
	}
}
