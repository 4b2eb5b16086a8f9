package types

import (
	"fmt"
	"time"
)

// CollaboratorRole names an external service the switch talks to.
type CollaboratorRole string

const (
	RoleRemitterBank    CollaboratorRole = "remitter_bank"
	RoleBeneficiaryBank CollaboratorRole = "beneficiary_bank"
	RolePayeePSP        CollaboratorRole = "payee_psp"
	RolePayerPSP        CollaboratorRole = "payer_psp"
)

// CollaboratorConfig contains the endpoint of one collaborator.
type CollaboratorConfig struct {
	URL     string            `json:"url" mapstructure:"url" yaml:"url"`
	Timeout time.Duration     `json:"timeout,omitempty" mapstructure:"timeout" yaml:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers" yaml:"headers,omitempty"`
	// Idempotent enables transport retries; the collaborator must dedupe by msgId.
	Idempotent bool `json:"idempotent,omitempty" mapstructure:"idempotent" yaml:"idempotent,omitempty"`
	RetryCount int  `json:"retryCount,omitempty" mapstructure:"retry_count" yaml:"retry_count,omitempty"`
}

// SwitchConfig contains the configuration of a switch instance.
type SwitchConfig struct {
	OrgID          string                                  `json:"orgId" mapstructure:"org_id" yaml:"org_id"`
	ListenAddr     string                                  `json:"listenAddr" mapstructure:"listen_addr" yaml:"listen_addr"`
	DefaultTimeout time.Duration                           `json:"defaultTimeout,omitempty" mapstructure:"default_timeout" yaml:"default_timeout"`
	RetryCount     int                                     `json:"retryCount,omitempty" mapstructure:"retry_count" yaml:"retry_count"`
	PendingTTL     time.Duration                           `json:"pendingTtl,omitempty" mapstructure:"pending_ttl" yaml:"pending_ttl"`
	EvictInterval  time.Duration                           `json:"evictInterval,omitempty" mapstructure:"evict_interval" yaml:"evict_interval"`
	SeenTTL        time.Duration                           `json:"seenTtl,omitempty" mapstructure:"seen_ttl" yaml:"seen_ttl"`
	ReversalPolicy ReversalPolicy                          `json:"reversalPolicy,omitempty" mapstructure:"reversal_policy" yaml:"reversal_policy"`
	MaxInFlight    int64                                   `json:"maxInFlight,omitempty" mapstructure:"max_in_flight" yaml:"max_in_flight"`
	LogLevel       string                                  `json:"logLevel,omitempty" mapstructure:"log_level" yaml:"log_level"`
	EnableMetrics  bool                                    `json:"enableMetrics,omitempty" mapstructure:"enable_metrics" yaml:"enable_metrics"`
	Collaborators  map[CollaboratorRole]CollaboratorConfig `json:"collaborators,omitempty" mapstructure:"collaborators" yaml:"collaborators"`
}

// DefaultSwitchConfig returns the configuration used when nothing is set.
func DefaultSwitchConfig() *SwitchConfig {
	return &SwitchConfig{
		OrgID:          "NPCI",
		ListenAddr:     ":5000",
		DefaultTimeout: 5 * time.Second,
		RetryCount:     0,
		PendingTTL:     2 * time.Minute,
		EvictInterval:  15 * time.Second,
		SeenTTL:        10 * time.Minute,
		ReversalPolicy: ReversalManual,
		MaxInFlight:    256,
		LogLevel:       "info",
		EnableMetrics:  true,
		Collaborators:  map[CollaboratorRole]CollaboratorConfig{},
	}
}

// Validate checks the values a switch cannot run without.
func (c *SwitchConfig) Validate() error {
	if c.OrgID == "" {
		return NewError(ErrConfigError, "org_id is required")
	}
	if c.DefaultTimeout <= 0 {
		return NewError(ErrConfigError, "default_timeout must be greater than 0")
	}
	if c.PendingTTL <= 0 {
		return NewError(ErrConfigError, "pending_ttl must be greater than 0")
	}
	if c.RetryCount < 0 {
		return NewError(ErrConfigError, "retry_count must not be negative")
	}
	if !c.ReversalPolicy.Valid() {
		return NewError(ErrConfigError, fmt.Sprintf("unknown reversal_policy %q", c.ReversalPolicy))
	}
	for role, cc := range c.Collaborators {
		if cc.URL == "" {
			return NewError(ErrConfigError, fmt.Sprintf("collaborators.%s.url is required", role))
		}
	}
	return nil
}

// TimeoutFor returns the collaborator timeout, falling back to DefaultTimeout.
func (c *SwitchConfig) TimeoutFor(role CollaboratorRole) time.Duration {
	if cc, ok := c.Collaborators[role]; ok && cc.Timeout > 0 {
		return cc.Timeout
	}
	return c.DefaultTimeout
}
