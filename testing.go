package rspc

import "context"

// Collect drains s and returns its items. The stream is closed afterwards.
// Intended for tests; subscriptions that never end must be canceled through
// their context first.
func Collect(s *Stream) []Item {
	var items []Item
	for it := range s.All() {
		items = append(items, it)
	}
	return items
}

// InvokeCollect invokes p with a native input and collects every item.
func InvokeCollect(ctx context.Context, p *Procedure, c any, input any) []Item {
	return Collect(p.Invoke(ctx, c, InputFromValue(input)))
}
