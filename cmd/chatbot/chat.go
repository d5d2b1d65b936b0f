// ABOUTME: Line-based chat loop for `chatbot chat`
// ABOUTME: Reads prompts, streams replies and handles thread commands until quit

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
)

const prompt = "type here: "

type chatCLI struct {
	sess *session.Session
	in   *bufio.Scanner
	out  io.Writer

	dim    *color.Color
	accent *color.Color
	tool   *color.Color
	errc   *color.Color
}

func newChatCLI(sess *session.Session, in io.Reader, out io.Writer) *chatCLI {
	return &chatCLI{
		sess:   sess,
		in:     bufio.NewScanner(in),
		out:    out,
		dim:    color.New(color.FgHiBlack),
		accent: color.New(color.FgCyan),
		tool:   color.New(color.FgYellow),
		errc:   color.New(color.FgRed),
	}
}

// run loops until quit, end of input or ctx is canceled, then prints the
// active thread's stored state.
func (c *chatCLI) run(ctx context.Context) error {
	for {
		fmt.Fprint(c.out, prompt)

		input, err := c.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				fmt.Fprintln(c.out)
				return c.printState(context.WithoutCancel(ctx))
			}
			return err
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "quit"):
			return c.printState(ctx)
		case strings.HasPrefix(input, "/"):
			c.command(ctx, input)
		default:
			c.send(ctx, input)
		}
		fmt.Fprintln(c.out)
	}
}

// readLine reads one line, returning early when ctx is canceled.
func (c *chatCLI) readLine(ctx context.Context) (string, error) {
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		if c.in.Scan() {
			inputCh <- c.in.Text()
			return
		}
		if err := c.in.Err(); err != nil {
			errCh <- fmt.Errorf("reading input: %w", err)
			return
		}
		errCh <- io.EOF
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-inputCh:
		return line, nil
	}
}

func (c *chatCLI) send(ctx context.Context, text string) {
	streaming := false
	_, err := c.sess.Send(ctx, text, func(ch session.Chunk) {
		switch ch.Type {
		case session.ChunkTitle:
			label := ch.Text
			if label == "" {
				label = session.ShortID(c.sess.ActiveID())
			}
			c.dim.Fprintf(c.out, "[new thread: %s]\n", label)
		case session.ChunkText:
			if !streaming {
				c.accent.Fprint(c.out, "assistant: ")
				streaming = true
			}
			fmt.Fprint(c.out, ch.Text)
		case session.ChunkToolCall:
			if streaming {
				fmt.Fprintln(c.out)
				streaming = false
			}
			c.tool.Fprintf(c.out, "[tool] %s %s\n", ch.ToolName, ch.Text)
		case session.ChunkToolResult:
			c.tool.Fprintf(c.out, "[tool result] %s: %s\n", ch.ToolName, ch.Text)
		}
	})
	if streaming {
		fmt.Fprintln(c.out)
	}
	if err != nil {
		c.errc.Fprintf(c.out, "[error] %v\n", err)
	}
}

func (c *chatCLI) command(ctx context.Context, input string) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/new":
		id := c.sess.NewChat()
		c.dim.Fprintf(c.out, "started new chat %s\n", session.ShortID(id))
	case "/threads":
		c.printThreads()
	case "/switch":
		id, err := c.sess.Resolve(arg)
		if err == nil {
			err = c.sess.Switch(ctx, id)
		}
		if err != nil {
			c.errc.Fprintf(c.out, "[error] %v\n", err)
			return
		}
		c.dim.Fprintf(c.out, "switched to %s\n", c.label(id))
		c.printHistory()
	case "/delete":
		id, err := c.sess.Resolve(arg)
		if err == nil {
			err = c.sess.Delete(ctx, id)
		}
		if err != nil {
			c.errc.Fprintf(c.out, "[error] %v\n", err)
			return
		}
		c.dim.Fprintf(c.out, "deleted %s\n", session.ShortID(id))
	case "/help":
		c.printHelp()
	default:
		c.errc.Fprintf(c.out, "[error] unknown command %s (try /help)\n", name)
	}
}

func (c *chatCLI) label(id string) string {
	for _, t := range c.sess.Threads() {
		if t.ID == id {
			return session.Label(t)
		}
	}
	return session.ShortID(id)
}

func (c *chatCLI) printThreads() {
	threads := c.sess.Threads()
	if len(threads) == 0 {
		fmt.Fprintln(c.out, "No conversations yet")
		return
	}
	active := c.sess.ActiveID()
	for i, t := range threads {
		marker := " "
		if t.ID == active {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %2d. %-40s %s\n", marker, i+1, session.Label(t), c.dim.Sprint(session.ShortID(t.ID)))
	}
}

func (c *chatCLI) printHistory() {
	for _, dm := range c.sess.History() {
		switch dm.Kind {
		case session.KindUser:
			fmt.Fprintf(c.out, "you: %s\n", dm.Content)
		case session.KindAssistant:
			c.accent.Fprint(c.out, "assistant: ")
			fmt.Fprintln(c.out, dm.Content)
		case session.KindToolCall:
			c.tool.Fprintf(c.out, "[tool] %s %s\n", dm.ToolName, dm.Content)
		case session.KindToolResult:
			c.tool.Fprintf(c.out, "[tool result] %s: %s\n", dm.ToolName, dm.Content)
		}
	}
}

func (c *chatCLI) printHelp() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /new              Start a new chat")
	fmt.Fprintln(c.out, "  /threads          List conversations, newest first")
	fmt.Fprintln(c.out, "  /switch <n|id>    Continue a conversation")
	fmt.Fprintln(c.out, "  /delete <n|id>    Delete a conversation")
	fmt.Fprintln(c.out, "  /help             Show this help")
	fmt.Fprintln(c.out, "  quit              Exit")
}

// printState prints the stored state of the active thread.
func (c *chatCLI) printState(ctx context.Context) error {
	state, err := c.sess.State(ctx)
	if err != nil {
		return fmt.Errorf("loading final state: %w", err)
	}
	c.dim.Fprintf(c.out, "thread %s: %d messages\n", state.ThreadID, len(state.Messages))
	for _, m := range state.Messages {
		line := m.Content
		if m.Role == store.RoleAssistant && len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			line = "calls " + strings.Join(names, ", ")
		}
		fmt.Fprintf(c.out, "  %-9s %s\n", m.Role, oneLine(line, 100))
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
