package confirm

import (
	"context"
	"fmt"
	"sync"
)

// A fake reply channel, for use in tests. Replies are queued with Send (before or during an Ask) and consumed in order.
type MockChannel struct {
	mu        sync.Mutex
	Posted    []Prompt
	Retracted []string
	replies   chan Reply
}

var _ Channel = (*MockChannel)(nil)

func NewMockChannel() *MockChannel {
	return &MockChannel{
		replies: make(chan Reply, 64),
	}
}

func (c *MockChannel) Send(authorID, content string) {
	c.replies <- Reply{AuthorID: authorID, Content: content}
}

func (c *MockChannel) Prompts() []Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Prompt(nil), c.Posted...)
}

func (c *MockChannel) Post(ctx context.Context, p Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Posted = append(c.Posted, p)
	return fmt.Sprintf("prompt-%d", len(c.Posted)), nil
}

func (c *MockChannel) AwaitReply(ctx context.Context, accept func(Reply) bool) (Reply, error) {
	for {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case r := <-c.replies:
			if accept(r) {
				return r, nil
			}
		}
	}
}

func (c *MockChannel) Retract(ctx context.Context, promptID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Retracted = append(c.Retracted, promptID)
	return nil
}
