package agent

import "context"

// Completer produces an agent reply. history holds rendered context lines,
// oldest first. temperature and topP are nil when the agent leaves them unset.
type Completer interface {
	Complete(ctx context.Context, persona string, history []string, userText string, temperature, topP *float64) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, persona string, history []string, userText string, temperature, topP *float64) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, persona string, history []string, userText string, temperature, topP *float64) (string, error) {
	return f(ctx, persona, history, userText, temperature, topP)
}
