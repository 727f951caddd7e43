package apyserver

import "sort"

// HandlerFunc is the handler contract: a callable taking (Client, Message)
// (spec.md §3 "Handler"). Returning StopPropagation aborts propagation and
// closes the connection (spec.md §9); any other non-nil error is logged
// and terminates only this message's dispatch.
type HandlerFunc func(c *Client, m *Message) error

// handlerEntry pairs a handler with its filter conjunction.
type handlerEntry struct {
	fn      HandlerFunc
	filters []Filter
}

func (h *handlerEntry) matches(c *Client, m *Message) bool {
	for _, f := range h.filters {
		if !f.Match(c, m) {
			return false
		}
	}
	return true
}

// HandlerRegistry stores handlers indexed by integer group and iterates
// them in ascending group order, insertion order within a group
// (spec.md §4.4). It is read-only once a Server begins serving.
type HandlerRegistry struct {
	groups map[int][]*handlerEntry
	order  []int
	sealed bool
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{groups: make(map[int][]*handlerEntry)}
}

// Register appends fn, with its filter conjunction, to the given group.
// It panics if called after the owning Server has started serving
// (spec.md §3 invariant: "adding handlers while serving is not supported").
func (r *HandlerRegistry) Register(group int, fn HandlerFunc, filters ...Filter) {
	if r.sealed {
		panic("apyserver: cannot register a handler after the server has started serving")
	}
	if _, ok := r.groups[group]; !ok {
		r.order = append(r.order, group)
		sort.Ints(r.order)
	}
	r.groups[group] = append(r.groups[group], &handlerEntry{fn: fn, filters: filters})
}

// seal freezes the registry against further registration.
func (r *HandlerRegistry) seal() { r.sealed = true }

// groupsInOrder returns the registered group keys in ascending order.
func (r *HandlerRegistry) groupsInOrder() []int {
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// handlersIn returns the handlers registered in group, in insertion order.
func (r *HandlerRegistry) handlersIn(group int) []*handlerEntry {
	return r.groups[group]
}
