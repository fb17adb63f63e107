package action

import "context"

// Alias delegates entirely to the action resolved for its target hostname
// at construction time. It never re-resolves per request and never chains
// through another Alias (see New).
type Alias struct {
	Delegate Action
}

// Handle implements Action.
func (a *Alias) Handle(ctx context.Context, req *Request) error {
	return a.Delegate.Handle(ctx, req)
}
