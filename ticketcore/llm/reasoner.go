// Package llm provides the reasoning engine protocol and the OpenAI-backed
// implementation used by the stages.
package llm

import (
	"context"
)

// Reasoner is the protocol for the generative reasoning engine.
// Stages send a system prompt and a user context and receive raw text,
// which they parse strictly at the stage boundary.
type Reasoner interface {
	Infer(ctx context.Context, system, user string) (string, error)
}
