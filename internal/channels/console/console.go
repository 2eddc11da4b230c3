// Package console is the interactive terminal channel behind "gbot chat".
// Lines typed on stdin become inbound messages for a single fixed user;
// replies and pushed events print to stdout, wrapped to display width.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/store"
)

// replyWidth is the wrap column for assistant output. Wrapping is
// display-width aware so CJK text does not overflow the terminal.
const replyWidth = 100

// Channel is the stdin/stdout adapter. All traffic maps to one user;
// the chat id is the user id.
type Channel struct {
	*channels.BaseChannel
	userID string
	in     io.Reader
	done   chan struct{}

	outMu sync.Mutex
	out   io.Writer
}

// New creates the console channel. The caller passes os.Stdin and
// os.Stdout in production; tests pass buffers.
func New(userID string, msgBus *bus.MessageBus, in io.Reader, out io.Writer) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("console", msgBus, nil),
		userID:      userID,
		in:          in,
		out:         out,
		done:        make(chan struct{}),
	}
}

// Done closes when stdin reaches EOF, signalling the chat command to
// exit.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Start begins reading lines from stdin.
func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	c.printf("connected as %s, ctrl-d to exit\n> ", c.userID)

	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				c.printf("> ")
				continue
			}
			c.HandleMessage(c.userID, c.userID, line, nil, bus.PeerDirect)
		}
		if err := scanner.Err(); err != nil {
			slog.Debug("console input closed", "error", err)
		}
	}()
	return nil
}

// Stop marks the channel stopped. The scanner goroutine ends when stdin
// closes; there is no way to interrupt a blocked terminal read.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send prints a reply wrapped to the terminal and re-issues the prompt.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.printf("\n%s\n\n> ", runewidth.Wrap(msg.Content, replyWidth))
	return nil
}

// PushEvent prints a system event inline. It satisfies events.PushFunc
// for chat sessions where the console is the only live channel.
func (c *Channel) PushEvent(_ context.Context, userID string, event store.SystemEvent) error {
	if userID != c.userID {
		return fmt.Errorf("console session belongs to %s, not %s", c.userID, userID)
	}
	c.printf("\n[%s] %s\n\n> ", event.Kind, event.Payload)
	return nil
}

func (c *Channel) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
