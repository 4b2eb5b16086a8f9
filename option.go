package upiswitch

import (
	"time"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/pending"
)

type Option func(*Switch)

func WithLogger(l logger.Logger) Option {
	return func(s *Switch) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Switch) {
		s.metrics = r
	}
}

// WithTimeout overrides the default collaborator timeout of the configuration.
func WithTimeout(t time.Duration) Option {
	return func(s *Switch) {
		s.timeout = t
	}
}

// WithStore replaces the in-memory pending store.
func WithStore(st pending.Store) Option {
	return func(s *Switch) {
		s.store = st
	}
}

// WithDebitCollaborator replaces the HTTP remitter bank client.
func WithDebitCollaborator(c clients.DebitCollaborator) Option {
	return func(s *Switch) {
		s.debit = c
	}
}

// WithCreditCollaborator replaces the HTTP beneficiary bank client.
func WithCreditCollaborator(c clients.CreditCollaborator) Option {
	return func(s *Switch) {
		s.credit = c
	}
}

// WithOriginator replaces the HTTP payer PSP client that receives final responses.
func WithOriginator(o clients.Originator) Option {
	return func(s *Switch) {
		s.originator = o
	}
}

// WithDirectory replaces the HTTP payee PSP client used for address validation.
func WithDirectory(d clients.AddressDirectory) Option {
	return func(s *Switch) {
		s.directory = d
	}
}

// WithReverser sets where automatic reversals are sent.
func WithReverser(r clients.Reverser) Option {
	return func(s *Switch) {
		s.reverser = r
	}
}
