/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMailboxOrder(t *testing.T) {
	tr := newTracker()
	a := newActor(context.Background(), "test", tr, zap.NewNop().Sugar(), nil)
	defer a.stop()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		a.send(i)
	}
	go a.run(func(msg interface{}) {
		mu.Lock()
		got = append(got, msg.(int))
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.wait(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestStaleTaskIsDiscarded(t *testing.T) {
	tr := newTracker()
	metrics := NewMetrics(prometheus.NewRegistry())
	a := newActor(context.Background(), "test", tr, zap.NewNop().Sugar(), metrics)
	defer a.stop()

	var (
		mu      sync.Mutex
		results []interface{}
	)
	release := make(chan struct{})
	go a.run(func(msg interface{}) {
		switch msg := msg.(type) {
		case string:
			// Every command restarts the state and launches a new task.
			a.renew()
			release := release
			if msg == "fast" {
				release = nil
			}
			a.launch(func(context.Context) (interface{}, error) {
				if release != nil {
					<-release
				}
				return msg, nil
			})
		case taskDone:
			mu.Lock()
			results = append(results, msg.value)
			mu.Unlock()
		}
	})

	a.send("slow")
	a.send("fast")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, time.Second, 5*time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.wait(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []interface{}{"fast"}, results)
	require.Equal(t, 1, int(testutil.ToFloat64(metrics.stale.WithLabelValues("test"))))
}

func TestStopDropsQueuedMessages(t *testing.T) {
	tr := newTracker()
	a := newActor(context.Background(), "test", tr, zap.NewNop().Sugar(), nil)
	for i := 0; i < 10; i++ {
		a.send(i)
	}
	a.stop()

	handled := make(chan interface{}, 10)
	done := make(chan struct{})
	go func() {
		a.run(func(msg interface{}) { handled <- msg })
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.wait(ctx))
	<-done
	require.Empty(t, handled)

	a.send("late")
	require.NoError(t, tr.wait(ctx), "a message to a stopped actor must not be counted")
}
