package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.Writer
}

// NewWriteCloser adapts w. Closing is forwarded only when w is an io.Closer,
// so os.Stdout can be handed in without being closed under the terminal.
func NewWriteCloser(w io.Writer) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return io.WriteString(wc.w, s)
}

func (wc *WriteCloser) Close() error {
	if c, ok := wc.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Printer fans indented text out to every hook. Safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{
		indStr: indentString,
		hooks:  hooks,
	}, nil
}

func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(s, ind)
}

func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeLocked(s, ind); err != nil {
		return err
	}
	return p.emit("\n")
}

func (p *Printer) writeLocked(s string, ind int) error {
	indent := strings.Repeat(p.indStr, ind)
	var b strings.Builder
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(indent)
		b.WriteString(line)
	}
	return p.emit(b.String())
}

func (p *Printer) emit(s string) error {
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			errs = append(errs, fmt.Errorf("on closing hook: %w", err))
		}
	}
	return errors.Join(errs...)
}
