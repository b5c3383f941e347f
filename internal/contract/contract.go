// Package contract holds the placeholder-contract table: the set of literal
// tokens a generated reply must contain for a given child intent.
package contract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"renewal-agent/internal/domain"
)

// Placeholder tokens that stand in for client-specific values in generated
// replies. They must appear byte-for-byte in the final text.
const (
	TokenPendingAmount = "{{$pending_amount}}"
	TokenDueDate       = "{{$due_date}}"
	TokenClientDomain  = "{{$client_domain}}"
)

// Table maps a child intent to its required placeholder tokens. A missing
// entry means no contract is enforced for that intent.
type Table map[string][]string

// Default returns the built-in contract table.
func Default() Table {
	return Table{
		domain.IntentChildBillingInquiry:      {TokenPendingAmount},
		domain.IntentChildActivePeriodInquiry: {TokenDueDate, TokenClientDomain},
		domain.IntentChildRenewalStatus:       {TokenDueDate, TokenClientDomain},
		domain.IntentChildDomainStatus:        {TokenClientDomain},
		domain.IntentChildInvoiceRequest:      {TokenClientDomain},
	}
}

// LoadFile reads a contract table from a YAML file mapping child intents to
// token lists. The file replaces the built-in table entirely.
func LoadFile(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("contract: read %s: %w", path, err)
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("contract: parse %s: %w", path, err)
	}
	for child, tokens := range t {
		if len(tokens) == 0 {
			return nil, fmt.Errorf("contract: intent %q has no tokens", child)
		}
	}
	return t, nil
}

// Required returns the token set for a child intent, or nil when no contract
// applies.
func (t Table) Required(intentChild string) []string {
	return t[intentChild]
}
