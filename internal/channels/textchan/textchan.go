// Package textchan is the console front-end adapter: it reads commands
// from an input stream and prints results with light styling.
package textchan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"servis/internal/dispatch"
	"servis/internal/domain"
	"servis/internal/logging"
)

var (
	promptStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	failureStyle = color.New(color.FgRed)
)

// Adapter bridges stdin/stdout to the dispatch entry. A nil input stream
// makes the adapter output-only, which is what the service mode uses.
type Adapter struct {
	bridge *dispatch.Bridge
	in     io.Reader
	out    io.Writer
	userID string
	logger *logging.Logger

	mu        sync.Mutex
	sessionID string

	cancel context.CancelFunc
	done   chan struct{}
}

func New(bridge *dispatch.Bridge, in io.Reader, out io.Writer, userID string, logger *logging.Logger) *Adapter {
	return &Adapter{
		bridge: bridge,
		in:     in,
		out:    out,
		userID: userID,
		logger: logging.OrNop(logger),
	}
}

func (a *Adapter) Tag() domain.InterfaceTag { return domain.InterfaceText }

// Start launches the read loop when an input stream is attached.
func (a *Adapter) Start(ctx context.Context) error {
	if a.in == nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.readLoop(loopCtx)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	return nil
}

// Deliver prints one result to the console.
func (a *Adapter) Deliver(_ context.Context, result *domain.CommandResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if result.SessionID != "" {
		a.sessionID = result.SessionID
	}
	if result.Success {
		_, err := successStyle.Fprintf(a.out, "%s\n", result.Response)
		return err
	}
	_, err := failureStyle.Fprintf(a.out, "error (%s): %s\n", result.ErrorKind, result.ErrorMessage)
	return err
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.done)
	scanner := bufio.NewScanner(a.in)
	for {
		promptStyle.Fprint(a.out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				a.logger.Error("console read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			fmt.Fprintln(a.out, "bye")
			return
		}

		a.mu.Lock()
		sessionID := a.sessionID
		a.mu.Unlock()

		_, err := a.bridge.Submit(ctx, dispatch.Submission{
			UserID:    a.userID,
			SessionID: sessionID,
			Interface: domain.InterfaceText,
			Text:      text,
		})
		if err != nil {
			failureStyle.Fprintf(a.out, "rejected: %v\n", err)
		}
	}
}
