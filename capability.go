package toolbridge

import "github.com/wagiedev/toolbridge-go/internal/adapter"

// Capability is a discovered tool in framework-neutral form: a name, a
// description, an input schema and an Invoke method returning text.
type Capability = adapter.Capability

// CapabilitySet indexes capabilities by name and invokes them concurrently.
type CapabilitySet = adapter.Set

// CapabilityOption configures capabilities built by Session.Capabilities.
type CapabilityOption = adapter.Option

// TextPolicy flattens a successful result into the string a capability
// returns.
type TextPolicy = adapter.TextPolicy

// Invocation is one call in a CapabilitySet.InvokeAll batch.
type Invocation = adapter.Invocation

// Outcome is the result of one Invocation.
type Outcome = adapter.Outcome

// NewCapabilitySet indexes caps by name. The first capability with a given
// name wins.
func NewCapabilitySet(caps []*Capability) *CapabilitySet {
	return adapter.NewSet(caps)
}

// WithTextPolicy overrides how results are flattened to text.
func WithTextPolicy(policy TextPolicy) CapabilityOption {
	return adapter.WithTextPolicy(policy)
}

// FirstText returns the first text block of a result. It is the default
// policy.
func FirstText(r *Result) string { return adapter.FirstText(r) }

// Concatenate joins every text block with newlines.
func Concatenate(r *Result) string { return adapter.Concatenate(r) }
