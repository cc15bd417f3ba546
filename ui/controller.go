// Package ui is the terminal face of a call: two actions, a status line and
// the set of agent audio outputs currently playing.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"go.uber.org/zap"
)

// Session is the part of *voicecall.CallSession the controller drives.
type Session interface {
	Start(ctx context.Context) error
	End()
}

const helpText = "commands: [s]tart  [e]nd  [q]uit"

type Controller struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	styles  Styles

	mu           sync.Mutex
	state        voicecall.State
	status       string
	startEnabled bool
	endEnabled   bool
	elements     []*voicecall.AudioElement
}

var _ voicecall.Presenter = (*Controller)(nil)

func NewController(logger shared.LoggerAdapter, printer *shared.Printer) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	c := &Controller{
		logger:  logger.With(zap.String("component", "ui")),
		printer: printer,
		styles:  NewStyles(DefaultTheme),
		status:  "Ready to connect.",
	}
	c.startEnabled, c.endEnabled = buttons(voicecall.StateIdle)
	return c, nil
}

// buttons maps a session state onto the (start, end) enabled flags.
func buttons(state voicecall.State) (start, end bool) {
	switch state {
	case voicecall.StateIdle:
		return true, false
	case voicecall.StateConnected:
		return false, true
	default:
		return false, false
	}
}

func (c *Controller) SetState(state voicecall.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.startEnabled, c.endEnabled = buttons(state)
	c.renderLocked()
}

func (c *Controller) SetStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = text
	c.renderLocked()
}

func (c *Controller) MountAudio(el *voicecall.AudioElement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements = append(c.elements, el)
	c.logger.Info("audio mounted", zap.String("sid", el.TrackSID), zap.String("participant", el.Participant))
}

func (c *Controller) RemoveAgentAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.elements[:0]
	for _, el := range c.elements {
		if !el.AgentAudio {
			kept = append(kept, el)
			continue
		}
		if el.Output != nil {
			if err := el.Output.Close(); err != nil {
				c.logger.Error("closing agent audio", err, zap.String("sid", el.TrackSID))
			}
		}
	}
	clear(c.elements[len(kept):])
	c.elements = kept
}

func (c *Controller) StartEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startEnabled
}

func (c *Controller) EndEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endEnabled
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) AgentAudioCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, el := range c.elements {
		if el.AgentAudio {
			n++
		}
	}
	return n
}

func (c *Controller) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineLocked()
}

func (c *Controller) lineLocked() string {
	button := func(name string, enabled bool) string {
		if enabled {
			return c.styles.Enabled.Render("[" + name + "]")
		}
		return c.styles.Disabled.Render("[" + name + "]")
	}
	return fmt.Sprintf("%s %s %s  %s",
		c.styles.State.Render("● "+c.state.String()),
		button("start", c.startEnabled),
		button("end", c.endEnabled),
		c.styles.Status.Render(c.status),
	)
}

func (c *Controller) renderLocked() {
	if err := c.printer.Writeln(c.lineLocked(), 0); err != nil {
		c.logger.Error("printing status", err)
	}
}

func (c *Controller) say(text string) {
	if err := c.printer.Writeln(c.styles.Help.Render(text), 1); err != nil {
		c.logger.Error("printing hint", err)
	}
}

// Run reads commands from in until quit, EOF or ctx is done. Start runs on its
// own goroutine so input stays responsive while connecting. An attempt still
// in flight is cancelled and an active call is ended before Run returns.
func (c *Controller) Run(ctx context.Context, session Session, in io.Reader) error {
	if session == nil {
		return errors.New("no session provided")
	}
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	c.SetStatus(c.Status())
	c.say(helpText)

	// On return: cancel a pending Start, wait for it, then hang up whatever
	// call it left behind.
	startCtx, cancelStart := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer session.End()
	defer wg.Wait()
	defer cancelStart()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
			case "s", "start":
				if !c.StartEnabled() {
					c.say("start is disabled right now")
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := session.Start(startCtx); err != nil && !errors.Is(err, shared.ErrSessionAlreadyRunning) {
						c.logger.Debug("start finished with error", zap.Error(err))
					}
				}()
			case "e", "end":
				if !c.EndEnabled() {
					c.say("end is disabled right now")
					continue
				}
				session.End()
			case "q", "quit", "exit":
				return nil
			default:
				c.say(helpText)
			}
		}
	}
}
