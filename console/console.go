// Package console lets the local operator take part in routing as the peer "self".
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"meshchat/network"
	"meshchat/router"
)

// Prompt is written before each line is read.
const Prompt = ">>> "

// Dispatcher routes one line on behalf of an endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, from router.Endpoint, line string) error
}

// Endpoint prints lines addressed to the local operator.
type Endpoint struct {
	mu  sync.Mutex
	out io.Writer
}

// NewEndpoint returns an endpoint writing to out.
func NewEndpoint(out io.Writer) *Endpoint {
	if out == nil {
		out = io.Discard
	}
	return &Endpoint{out: out}
}

// Identity returns router.SelfIdentity.
func (e *Endpoint) Identity() string {
	return router.SelfIdentity
}

// Send prints line.
func (e *Endpoint) Send(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintln(e.out, line)
	return err
}

// Close is a no-op; the console has no connection to close.
func (e *Endpoint) Close() error {
	return nil
}

func (e *Endpoint) prompt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = io.WriteString(e.out, Prompt)
}

// Bridge feeds lines typed by the operator into a Dispatcher.
type Bridge struct {
	in         io.Reader
	endpoint   *Endpoint
	dispatcher Dispatcher
	// ShowPrompt controls whether Prompt is printed before each line.
	ShowPrompt bool
}

// NewBridge returns a bridge reading lines from in.
func NewBridge(in io.Reader, endpoint *Endpoint, dispatcher Dispatcher) *Bridge {
	return &Bridge{
		in:         in,
		endpoint:   endpoint,
		dispatcher: dispatcher,
		ShowPrompt: true,
	}
}

type input struct {
	line string
	err  error
}

// Run dispatches lines until the input ends or ctx is cancelled. An oversized
// line is reported to the operator and skipped; no read error stops the node.
func (b *Bridge) Run(ctx context.Context) error {
	inputs := make(chan input)

	go func() {
		defer close(inputs)
		reader := network.NewLineReader(b.in, network.MaxLineSize)
		for {
			line, err := reader.ReadLine()
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case inputs <- input{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, network.ErrLineTooLong) {
				return
			}
		}
	}()

	for {
		if b.ShowPrompt {
			b.endpoint.prompt()
		}

		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-inputs:
			if !ok {
				log.Debug("console input closed")
				return nil
			}
			if errors.Is(in.err, network.ErrLineTooLong) {
				_ = b.endpoint.Send(router.NoticePrefix + "error: " + in.err.Error() + ", line dropped")
				continue
			}
			if in.err != nil {
				log.Warn("console read failed", "error", in.err)
				return nil
			}
			if err := b.dispatcher.Dispatch(ctx, b.endpoint, in.line); err != nil {
				log.Debug("console command failed", "error", err)
			}
		}
	}
}
