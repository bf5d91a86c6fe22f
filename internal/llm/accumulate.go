package llm

// Accumulator assembles complete tool calls from streaming deltas.
// Calls are addressed by delta index, not arrival order: fragments for
// several calls may interleave, and argument text must be concatenated
// per call in arrival order.
type Accumulator struct {
	calls []*ToolCall
}

// Merge folds one delta's tool call fragments into the accumulator.
func (a *Accumulator) Merge(deltas []ToolCallDelta) {
	for _, d := range deltas {
		if d.Index < 0 {
			continue
		}
		for len(a.calls) <= d.Index {
			a.calls = append(a.calls, nil)
		}
		tc := a.calls[d.Index]
		if tc == nil {
			tc = &ToolCall{Type: "function"}
			a.calls[d.Index] = tc
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Type != "" {
			tc.Type = d.Type
		}
		if d.Name != "" {
			tc.Function.Name = d.Name
		}
		tc.Function.Arguments += d.Arguments
	}
}

// Complete returns the assembled calls, in index order, dropping any slot
// that never received a function name. A model can emit an empty
// tool_calls finish without a usable call; callers treat that as a final
// response, not a tool round.
func (a *Accumulator) Complete() []ToolCall {
	var out []ToolCall
	for _, tc := range a.calls {
		if tc == nil || tc.Function.Name == "" {
			continue
		}
		out = append(out, *tc)
	}
	return out
}

// Len reports the number of slots seen so far, including incomplete ones.
func (a *Accumulator) Len() int { return len(a.calls) }

// Reset clears the accumulator for reuse.
func (a *Accumulator) Reset() { a.calls = nil }
