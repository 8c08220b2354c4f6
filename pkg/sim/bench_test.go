package sim

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/stabilizer/pkg/protocol"
)

type recordingDisplay struct {
	lock   sync.Mutex
	titles []string
}

func (d *recordingDisplay) Draw(title, body string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.titles = append(d.titles, title)
	return nil
}

func (d *recordingDisplay) drew(prefix string) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	for _, title := range d.titles {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	return false
}

func TestBench(t *testing.T) {
	display := &recordingDisplay{}
	b := NewBench(40, display)
	b.Commands.ReadTimeout = 5 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	_, err := b.Link().Write(protocol.Encode(protocol.Command{Freq: 20000, Duty: 32768}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		freq, duty := b.Laser.PWM()
		return freq == 20000 && duty == 32768
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return display.drew("PWM") }, 2*time.Second, time.Millisecond)

	_, err = b.Link().Write([]byte("garbage\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return display.drew("C Error") }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bench did not stop")
	}
}
