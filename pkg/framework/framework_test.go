package framework

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMsg struct {
	n int
}

func (m *testMsg) NewMessage() Message { return &testMsg{} }

type otherMsg struct{}

func (m *otherMsg) NewMessage() Message { return &otherMsg{} }

func TestMessagesInPostingOrder(t *testing.T) {
	loop := NewLoop()
	var got []int
	var remained int
	loop.AddController(PrLvControl, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mctx MessageProcessingContext) {
			if m, ok := mctx.CurrentMessage().(*testMsg); ok {
				mctx.MessageTaken()
				got = append(got, m.n)
			}
		}))
		return nil
	}))
	loop.AddController(PrLvPostProc, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mctx MessageProcessingContext) {
			remained++
		}))
		return nil
	}))
	loop.Add(UnhandledMessages{})

	for i := 1; i <= 3; i++ {
		loop.PostMessage(&testMsg{n: i})
	}
	loop.PostMessage(&otherMsg{})
	loop.RunIteration(context.Background())
	require.Equal(t, []int{1, 2, 3}, got)
	require.Equal(t, 1, remained)

	// unhandled messages don't carry over.
	remained = 0
	loop.RunIteration(context.Background())
	require.Zero(t, remained)
}

func TestStopProcessingKeepsRest(t *testing.T) {
	loop := NewLoop()
	var first, second []int
	loop.AddController(PrLvHigh, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mctx MessageProcessingContext) {
			first = append(first, mctx.CurrentMessage().(*testMsg).n)
			mctx.MessageTaken()
			mctx.StopProcessing()
		}))
		return nil
	}))
	loop.AddController(PrLvLow, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mctx MessageProcessingContext) {
			second = append(second, mctx.CurrentMessage().(*testMsg).n)
			mctx.MessageTaken()
		}))
		return nil
	}))
	loop.PostMessage(&testMsg{n: 1})
	loop.PostMessage(&testMsg{n: 2})
	loop.PostMessage(&testMsg{n: 3})
	loop.RunIteration(context.Background())
	require.Equal(t, []int{1}, first)
	require.Equal(t, []int{2, 3}, second)
}

func TestPriorityOrder(t *testing.T) {
	loop := NewLoop()
	var order []int
	for _, pr := range []int{PrLvIdle, PrLvTop, PrLvControl, PrLvSense} {
		pr := pr
		loop.AddController(pr, ControlFunc(func(cc ControlContext) error {
			require.Equal(t, pr, cc.PriorityLevel())
			order = append(order, pr)
			return nil
		}))
	}
	loop.RunIteration(context.Background())
	require.Equal(t, []int{PrLvTop, PrLvSense, PrLvControl, PrLvIdle}, order)
}

func TestLoopRun(t *testing.T) {
	loop := NewLoop().WithInterval(time.Hour)
	var count int32
	loop.AddController(PrLvControl, ControlFunc(func(cc ControlContext) error {
		atomic.AddInt32(&count, 1)
		return nil
	}))
	started := make(chan struct{})
	loop.AddRunnable(RunFunc(func(ctx context.Context) error {
		require.NotNil(t, LoopCtlFrom(ctx))
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	<-started
	require.Eventually(t, func() bool {
		loop.TriggerNext()
		return atomic.LoadInt32(&count) > 0
	}, time.Second, time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}

func TestRunnerAggregatesErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	r := NewRunner().Go(
		RunFunc(func(ctx context.Context) error { return errA }),
		RunFunc(func(ctx context.Context) error { return nil }),
		NamedRun("b", RunFunc(func(ctx context.Context) error { return errB })),
		RunFunc(func(ctx context.Context) error { return context.Canceled }),
	)
	err := r.Wait()
	require.Error(t, err)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	require.Len(t, err.(*AggregatedError).Errors, 2)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil, nil).Aggregate())
	errs.Add(errors.New("one"))
	require.EqualError(t, errs.Aggregate(), "one")
	errs.Add(errors.New("two"))
	require.EqualError(t, errs.Aggregate(), "multiple errors:\n  one\n  two")
}

func TestRunWithContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunWithContextCancel(ctx, func() { close(stop) }, func() error {
			<-stop
			return errors.New("closed")
		})
	}()
	cancel()
	require.Equal(t, context.Canceled, <-errCh)

	err := RunWithContextCancel(context.Background(), nil, func() error { return errors.New("done") })
	require.EqualError(t, err, "done")
}
