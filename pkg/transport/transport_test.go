package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startSource(t *testing.T, src *LineSource) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestLineSourceLines(t *testing.T) {
	src := NewLineSource(strings.NewReader("{\"freq\":1000,\"duty\":1}\r\n\nsecond\npartial"))
	_, errCh := startSource(t, src)
	ctx := context.Background()

	line, err := src.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "{\"freq\":1000,\"duty\":1}\r", string(line))
	line, err = src.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	require.Empty(t, line)
	line, err = src.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", string(line))

	require.Equal(t, io.EOF, <-errCh)
	_, err = src.ReadLine(ctx, time.Second)
	require.Equal(t, io.EOF, err)
}

func TestLineSourceTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewLineSource(r)
	startSource(t, src)

	start := time.Now()
	_, err := src.ReadLine(context.Background(), 20*time.Millisecond)
	require.Equal(t, ErrTimeout, err)
	require.True(t, time.Since(start) >= 20*time.Millisecond)

	go w.Write([]byte("late\n"))
	line, err := src.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "late", string(line))
}

func TestLineSourceCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewLineSource(r)
	startSource(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.ReadLine(ctx, time.Second)
	require.Equal(t, context.Canceled, err)
}

func TestLineSourceTruncates(t *testing.T) {
	src := NewLineSource(strings.NewReader(strings.Repeat("x", 40) + "\nok\n"))
	src.MaxLineSize = 8
	startSource(t, src)

	line, err := src.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "xxxxxxxx", string(line))
	line, err = src.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", string(line))
}

type flakyReader struct {
	lock  sync.Mutex
	steps []func([]byte) (int, error)
}

func (r *flakyReader) Read(p []byte) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.steps) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	return step(p)
}

func TestLineSourceErrors(t *testing.T) {
	errBroken := errors.New("broken")
	gate1, gate2 := make(chan struct{}), make(chan struct{})
	r := &flakyReader{steps: []func([]byte) (int, error){
		func(p []byte) (int, error) { return 0, nil },
		func(p []byte) (int, error) { return 0, io.EOF },
		func(p []byte) (int, error) { return copy(p, "a\n"), nil },
		func(p []byte) (int, error) { <-gate1; return 0, errBroken },
		func(p []byte) (int, error) { <-gate2; return copy(p, "b\n"), nil },
	}}
	src := NewLineSource(r)
	src.ReadTimeout = true
	src.ErrorPause = time.Millisecond
	startSource(t, src)
	ctx := context.Background()

	line, err := src.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", string(line))
	close(gate1)
	_, err = src.ReadLine(ctx, time.Second)
	require.Equal(t, errBroken, err)
	close(gate2)
	line, err = src.ReadLine(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "b", string(line))
}

func TestListener(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	src := NewLineSource(l)
	_, errCh := startSource(t, src)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		conn, err := Dial(ctx, "tcp://"+l.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte(text + "\n"))
		require.NoError(t, err)
		line, err := src.ReadLine(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, text, string(line))
		require.NoError(t, conn.Close())
	}

	require.NoError(t, l.Close())
	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, net.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("line source still running")
	}
}

func TestDialURL(t *testing.T) {
	ctx := context.Background()
	_, err := Dial(ctx, "udp://localhost:1")
	require.True(t, errors.Is(err, ErrUnsupportedScheme))
	_, err = Dial(ctx, "serial:///dev/ttyX?baud=fast")
	require.Error(t, err)
}
