package device

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is how often the Renderer looks at the Mailbox.
const DefaultPollInterval = 20 * time.Millisecond

// Display shows a status on the device screen.
type Display interface {
	Draw(title, body string) error
}

// Renderer drains the Mailbox onto a Display.
type Renderer struct {
	Mailbox      *Mailbox
	Display      Display
	Clock        clock.Clock
	PollInterval time.Duration
	// ErrorPause is the pause after a Display failure.
	ErrorPause time.Duration
}

// NewRenderer creates a Renderer.
func NewRenderer(mb *Mailbox, display Display) *Renderer {
	return &Renderer{
		Mailbox:      mb,
		Display:      display,
		Clock:        clock.New(),
		PollInterval: DefaultPollInterval,
		ErrorPause:   time.Second,
	}
}

// Name implements framework.Named.
func (r *Renderer) Name() string {
	return "renderer"
}

// Run implements framework.Runnable. It only returns when ctx is done.
func (r *Renderer) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(r.PollInterval), 1)
	for {
		now := r.Clock.Now()
		if err := sleepCtx(ctx, r.Clock, limiter.ReserveN(now, 1).DelayFrom(now)); err != nil {
			return err
		}
		s, drawn, err := r.RenderOnce()
		if err != nil {
			glog.Warningf("render failed: %v", err)
			r.Mailbox.Publish(ErrorStatus(TitleMonitorError, err))
			if err := sleepCtx(ctx, r.Clock, r.ErrorPause); err != nil {
				return err
			}
			continue
		}
		if drawn {
			if err := r.Hold(ctx, s); err != nil {
				return err
			}
		}
	}
}

// RenderOnce draws the pending status, if any.
// A panic inside the Display is returned as an error.
func (r *Renderer) RenderOnce() (s Status, drawn bool, err error) {
	s, ok := r.Mailbox.TakeIfPending()
	if !ok {
		return s, false, nil
	}
	defer func() {
		if p := recover(); p != nil {
			drawn, err = false, fmt.Errorf("display panic: %v", p)
		}
	}()
	if err = r.Display.Draw(s.Title, s.Body); err != nil {
		return s, false, err
	}
	return s, true, nil
}

// Hold keeps s on the display for its HoldTime. It returns early when a
// status of higher priority is published.
func (r *Renderer) Hold(ctx context.Context, s Status) error {
	if s.HoldTime <= 0 {
		return nil
	}
	timer := r.Clock.Timer(s.HoldTime)
	defer timer.Stop()
	for {
		if r.Mailbox.Outranks(s.Priority) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-r.Mailbox.Notify():
		}
	}
}

func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
