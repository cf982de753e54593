// Package console is the terminal front end of the chat client: a line
// editor on top of golang.org/x/term that prints history as it arrives
// and turns typed lines into client actions.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"relaychat/internal/client"
)

// Chat is the part of *client.Client the console drives.
type Chat interface {
	Send(client.Action) error
	SetInput(string)
	State() client.Snapshot
	Done() <-chan struct{}
}

type lineReader interface {
	ReadLine() (string, error)
}

// Console reads commands and prints chat lines.  Output written through
// it (including log lines) does not clobber the line being edited.
type Console struct {
	lines lineReader
	out   io.Writer
	term  *term.Terminal
}

// New wraps rw with an x/term line editor.  rw should be in raw mode.
func New(rw io.ReadWriter, prompt string) *Console {
	t := term.NewTerminal(rw, prompt)
	return &Console{lines: t, out: t, term: t}
}

// NewPlain reads newline-terminated lines from r and writes to w, for
// when stdin is not a terminal.
func NewPlain(r io.Reader, w io.Writer) *Console {
	return &Console{lines: &scanLines{bufio.NewScanner(r)}, out: w}
}

// Open builds a console on stdin/stdout, switching the terminal to raw
// mode when stdin is a TTY.  The returned function restores it.
func Open(prompt string) (*Console, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return NewPlain(os.Stdin, os.Stdout), func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, fmt.Errorf("raw mode: %w", err)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	c := New(rw, prompt)
	if w, h, err := term.GetSize(fd); err == nil {
		c.term.SetSize(w, h) //nolint:errcheck
	}
	return c, func() { term.Restore(fd, old) }, nil //nolint:errcheck
}

// Write prints p above the prompt.
func (c *Console) Write(p []byte) (int, error) { return c.out.Write(p) }

// Print shows one history line.
func (c *Console) Print(e client.Entry) {
	fmt.Fprintln(c.out, e.String())
}

// Run reads lines until the user quits, the chat ends, input runs out,
// or ctx is cancelled.  Quitting for any reason other than the chat
// ending sends a Leave.
func (c *Console) Run(ctx context.Context, chat Chat) error {
	if c.term != nil {
		c.term.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
			return trackInput(chat, line, pos, key)
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := c.lines.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-chat.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return chat.Send(client.Quit{})
		case <-chat.Done():
			return nil
		case err := <-readErr:
			if err != io.EOF {
				fmt.Fprintf(c.out, "input: %v\n", err)
			}
			return chat.Send(client.Quit{})
		case line := <-lines:
			chat.SetInput("")
			quit, err := c.execute(chat, line)
			if err != nil {
				fmt.Fprintf(c.out, "%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// trackInput mirrors the edited line into the chat state.  The terminal
// calls it before applying a key, so printable keys are inserted here
// and the line handed back; the state then matches what is on screen.
// Keys the terminal handles itself (backspace, Ctrl-W, ...) never reach
// the callback and show up with the next typed key.
func trackInput(chat Chat, line string, pos int, key rune) (string, int, bool) {
	if key < ' ' || (key >= 0xd800 && key <= 0xdbff) {
		chat.SetInput(line)
		return "", 0, false
	}
	k := string(key)
	next := line[:pos] + k + line[pos:]
	chat.SetInput(next)
	return next, pos + len(k), true
}

func (c *Console) execute(chat Chat, line string) (quit bool, err error) {
	if strings.TrimSpace(line) == "" {
		return false, nil
	}
	if strings.TrimSpace(line) == "/help" {
		fmt.Fprint(c.out, help)
		return false, nil
	}
	action, err := Parse(line)
	if err != nil {
		return false, err
	}
	if _, ok := action.(client.RequestUsers); ok {
		fmt.Fprintf(c.out, "users: %s\n", strings.Join(chat.State().Users, ", "))
	}
	if err := chat.Send(action); err != nil {
		return false, err
	}
	_, quit = action.(client.Quit)
	return quit, nil
}

const help = `commands:
  /nick NAME     change your nick
  /users         list who is here
  /quit [TEXT]   leave, optionally with a parting message
  //TEXT         say TEXT starting with a slash
`

// Parse turns a typed line into an action.  Lines not starting with '/'
// are said verbatim.
func Parse(line string) (client.Action, error) {
	if !strings.HasPrefix(line, "/") {
		return client.Say{Text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return client.Say{Text: line[1:]}, nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "nick":
		if arg == "" || strings.ContainsAny(arg, " \t") {
			return nil, fmt.Errorf("usage: /nick NAME")
		}
		return client.Rename{Nick: arg}, nil
	case "users":
		return client.RequestUsers{}, nil
	case "quit":
		if arg == "" {
			return client.Quit{}, nil
		}
		return client.Quit{Message: &arg}, nil
	}
	return nil, fmt.Errorf("unknown command /%s (try /help)", cmd)
}

type scanLines struct{ s *bufio.Scanner }

func (l *scanLines) ReadLine() (string, error) {
	if l.s.Scan() {
		return strings.TrimRight(l.s.Text(), "\r"), nil
	}
	if err := l.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
