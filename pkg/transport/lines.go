// Package transport moves command lines between the host and the device.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
)

// DefaultMaxLineSize caps a received line, longer lines are truncated.
const DefaultMaxLineSize = 1024

// LineSource splits a byte stream into lines in the background.
// Run must be running for ReadLine to return lines.
type LineSource struct {
	Reader io.Reader
	// ReadTimeout is set if Reader returns empty reads or io.EOF when its
	// own read timeout expires, like tarm/serial ports do.
	ReadTimeout bool
	MaxLineSize int
	Clock       clock.Clock
	// ErrorPause is the pause after a failed read before reading again.
	ErrorPause time.Duration

	lineCh chan []byte
	errCh  chan error
	doneCh chan struct{}
	err    error
}

// NewLineSource creates a LineSource reading from r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{
		Reader:      r,
		MaxLineSize: DefaultMaxLineSize,
		Clock:       clock.New(),
		ErrorPause:  time.Second,
		lineCh:      make(chan []byte, 16),
		errCh:       make(chan error, 1),
		doneCh:      make(chan struct{}),
	}
}

// Name implements framework.Named.
func (s *LineSource) Name() string {
	return "line-source"
}

// Run implements framework.Runnable. It returns when the stream ends,
// after which ReadLine reports the terminal error.
func (s *LineSource) Run(ctx context.Context) error {
	defer close(s.doneCh)
	buf := make([]byte, 256)
	line := make([]byte, 0, s.MaxLineSize)
	for {
		if err := ctx.Err(); err != nil {
			s.err = err
			return err
		}
		n, err := s.Reader.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < s.MaxLineSize {
					line = append(line, b)
				}
				continue
			}
			if err := s.deliver(ctx, line); err != nil {
				s.err = err
				return err
			}
			line = make([]byte, 0, s.MaxLineSize)
		}
		switch {
		case err == nil, os.IsTimeout(err):
		case err == io.EOF && s.ReadTimeout:
		case err == io.EOF, errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
			s.err = err
			return err
		default:
			glog.Warningf("read: %v", err)
			select {
			case s.errCh <- err:
			default:
			}
			timer := s.Clock.Timer(s.ErrorPause)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

func (s *LineSource) deliver(ctx context.Context, line []byte) error {
	select {
	case s.lineCh <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLine waits up to timeout for the next line, without the newline.
func (s *LineSource) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := s.Clock.Timer(timeout)
	defer timer.Stop()
	select {
	case line := <-s.lineCh:
		return line, nil
	case err := <-s.errCh:
		return nil, err
	case <-s.doneCh:
		select {
		case line := <-s.lineCh:
			return line, nil
		default:
		}
		return nil, s.err
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
