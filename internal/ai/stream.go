package ai

import "context"

// StreamEvent is one element of a streamed completion. Exactly one of the
// fields is meaningful: a text fragment, a terminal error, or Done.
type StreamEvent struct {
	Text string
	Err  error
	Done bool
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
// The returned channel is closed after a Done or Err event, or when ctx ends.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) <-chan StreamEvent
}

// emit delivers ev unless ctx is done first.
func emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
