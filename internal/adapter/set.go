package adapter

import (
	"context"

	"github.com/wagiedev/toolbridge-go/internal/errors"
	"golang.org/x/sync/errgroup"
)

// Invocation names one tool call in a batch.
type Invocation struct {
	Name string
	Args map[string]any
}

// Outcome is the result of one Invocation.
type Outcome struct {
	Name string
	Text string
	Err  error
}

// Set indexes capabilities by name.
type Set struct {
	caps   []*Capability
	byName map[string]*Capability
	limit  int
}

// NewSet indexes caps. A later capability with a duplicate name is ignored.
func NewSet(caps []*Capability) *Set {
	s := &Set{
		caps:   make([]*Capability, 0, len(caps)),
		byName: make(map[string]*Capability, len(caps)),
		limit:  -1,
	}

	for _, c := range caps {
		if _, exists := s.byName[c.Name()]; exists {
			continue
		}

		s.caps = append(s.caps, c)
		s.byName[c.Name()] = c
	}

	return s
}

// SetLimit bounds how many calls InvokeAll runs at once. Zero or a negative
// value removes the bound.
func (s *Set) SetLimit(n int) {
	if n <= 0 {
		n = -1
	}

	s.limit = n
}

// Get returns the named capability.
func (s *Set) Get(name string) (*Capability, bool) {
	c, ok := s.byName[name]

	return c, ok
}

// Names returns capability names in discovery order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.caps))
	for _, c := range s.caps {
		names = append(names, c.Name())
	}

	return names
}

// All returns the capabilities in discovery order.
func (s *Set) All() []*Capability {
	return append([]*Capability(nil), s.caps...)
}

// Len returns the number of capabilities.
func (s *Set) Len() int { return len(s.caps) }

// Invoke calls the named capability.
func (s *Set) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	c, ok := s.byName[name]
	if !ok {
		return "", errors.NewToolError(errors.KindUnknownTool, name, "Unknown tool: %s", name)
	}

	return c.Invoke(ctx, args)
}

// InvokeAll runs the calls concurrently and returns one outcome per call in
// input order. A failing call does not cancel the others.
func (s *Set) InvokeAll(ctx context.Context, calls []Invocation) []Outcome {
	outcomes := make([]Outcome, len(calls))

	var g errgroup.Group

	g.SetLimit(s.limit)

	for i, call := range calls {
		g.Go(func() error {
			text, err := s.Invoke(ctx, call.Name, call.Args)
			outcomes[i] = Outcome{Name: call.Name, Text: text, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}
