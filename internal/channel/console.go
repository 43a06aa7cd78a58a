package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"

	"github.com/huntred/flowbot/internal/engine"
)

const (
	ConsolePlatform = "console"
	typeOwnAnswer   = "Escribir otra respuesta"
)

// ErrConsoleClosed is returned by Read when the user leaves the session.
var ErrConsoleClosed = errors.New("console closed")

// Console is a Gateway printing replies to a terminal and reading answers
// with promptui. Options of the last reply are offered as a selection.
type Console struct {
	out  io.Writer
	user string

	mu      sync.Mutex
	options []string
}

func NewConsole(out io.Writer, user string) *Console {
	if user == "" {
		user = "local"
	}
	return &Console{out: out, user: user}
}

// Inbound wraps text typed in the console.
func (c *Console) Inbound(text string) engine.Inbound {
	return engine.Inbound{Platform: ConsolePlatform, UserID: c.user, Text: text}
}

func (c *Console) SendText(_ context.Context, _, _ string, text string) error {
	c.setOptions(nil)
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", text)
	return err
}

func (c *Console) SendOptions(_ context.Context, _, _ string, text string, options []string) error {
	c.setOptions(options)
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", text)
	return err
}

// Read asks for the next answer.
func (c *Console) Read() (string, error) {
	options := c.pending()
	if len(options) > 0 {
		sel := promptui.Select{
			Label: "Elige una opción",
			Items: append(options, typeOwnAnswer),
		}
		_, choice, err := sel.Run()
		if err != nil {
			return "", closed(err)
		}
		if choice != typeOwnAnswer {
			return choice, nil
		}
	}

	prompt := promptui.Prompt{Label: "Tú"}
	text, err := prompt.Run()
	if err != nil {
		return "", closed(err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Console) setOptions(options []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = append([]string(nil), options...)
}

func (c *Console) pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.options...)
}

func closed(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrConsoleClosed
	}
	return err
}
