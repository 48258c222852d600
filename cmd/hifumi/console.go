package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hifumi-dev/hifumi/enforce/confirm"
)

// A confirm.Channel on a terminal: prompts are printed, and every input line is a reply from the operator.
type consoleChannel struct {
	out      io.Writer
	authorID string
	lines    chan string
}

var _ confirm.Channel = (*consoleChannel)(nil)

func newConsoleChannel(in io.Reader, out io.Writer, authorID string) *consoleChannel {
	c := &consoleChannel{
		out:      out,
		authorID: authorID,
		lines:    make(chan string),
	}
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			c.lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return c
}

func (c *consoleChannel) Post(ctx context.Context, p confirm.Prompt) (string, error) {
	hint := "[y/n]"
	if p.Kind == confirm.KindNumbered {
		hint = fmt.Sprintf("[1-%d]", len(p.Choices))
	}
	_, err := fmt.Fprintf(c.out, "%s %s (%s to answer)\n> ", p.Text, hint, p.Timeout)
	return "console", err
}

func (c *consoleChannel) AwaitReply(ctx context.Context, accept func(confirm.Reply) bool) (confirm.Reply, error) {
	for {
		select {
		case <-ctx.Done():
			return confirm.Reply{}, ctx.Err()
		case line, ok := <-c.lines:
			if !ok {
				return confirm.Reply{}, io.EOF
			}
			r := confirm.Reply{AuthorID: c.authorID, Content: line}
			if accept(r) {
				return r, nil
			}
		}
	}
}

func (c *consoleChannel) Retract(ctx context.Context, promptID string) error {
	_, err := fmt.Fprintln(c.out)
	return err
}
