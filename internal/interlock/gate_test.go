package interlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatus_AllSafe(t *testing.T) {
	assert.False(t, AllSafe().ExposureBlocked())
	assert.Empty(t, AllSafe().UnsafeFlags())

	assert.True(t, Status{}.ExposureBlocked(), "zero status is all-unsafe")
	assert.Len(t, Status{}.UnsafeFlags(), len(AllFlags()))
}

func TestStatus_AnySingleUnsafeFlagBlocksExposure(t *testing.T) {
	for _, flag := range AllFlags() {
		t.Run(string(flag), func(t *testing.T) {
			status, err := AllSafe().With(flag, false)
			require.NoError(t, err)

			assert.True(t, status.ExposureBlocked())
			assert.Equal(t, []Flag{flag}, status.UnsafeFlags())
		})
	}
}

func TestStatus_WithUnknownFlag(t *testing.T) {
	_, err := AllSafe().With(Flag("bogus"), false)
	assert.Error(t, err)
}

func TestGate_InitialStateIsAllUnsafe(t *testing.T) {
	gate := NewGate(zap.NewNop())

	// Until hardware reports in, everything reads unsafe.
	assert.True(t, gate.IsExposureBlocked())
}

func TestGate_SetAndSnapshot(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())

	assert.False(t, gate.IsExposureBlocked())

	require.NoError(t, gate.Set(FlagDoorClosed, false))
	assert.True(t, gate.IsExposureBlocked())

	snap := gate.Snapshot()
	assert.False(t, snap.DoorClosed)
	assert.True(t, snap.ThermalOK)

	require.NoError(t, gate.Set(FlagDoorClosed, true))
	assert.False(t, gate.IsExposureBlocked())
}

func TestGate_SnapshotIsImmutable(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())

	snap := gate.Snapshot()
	snap.DoorClosed = false

	assert.False(t, gate.IsExposureBlocked(), "snapshot mutation must not affect the gate")
}

func TestGate_EmergencyStandby(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())

	gate.EmergencyStandby()

	snap := gate.Snapshot()
	assert.True(t, snap.EmergencyStopClear)
	assert.False(t, snap.GeneratorReady, "standby must drop generator readiness")
	assert.True(t, gate.IsExposureBlocked())
}

func TestGate_ConcurrentReadersAndWriters(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = gate.Snapshot()
					_ = gate.IsExposureBlocked()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		_ = gate.Set(FlagDoorClosed, i%2 == 0)
	}
	close(stop)
	wg.Wait()

	// 199 is odd: the last write set the door open.
	assert.True(t, gate.IsExposureBlocked())
}

func TestWatchdog_DetectsBreach(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())
	wd := NewWatchdog(gate, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fired := make(chan Status, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = gate.Set(FlagDoorClosed, false)
	}()

	snap, breached := wd.Watch(ctx, func(s Status) { fired <- s })
	assert.True(t, breached)
	assert.False(t, snap.DoorClosed)

	select {
	case s := <-fired:
		assert.Contains(t, s.UnsafeFlags(), FlagDoorClosed)
	default:
		t.Fatal("onUnsafe callback did not fire")
	}
}

func TestWatchdog_StopsOnCancelWithoutBreach(t *testing.T) {
	gate := NewGate(zap.NewNop())
	gate.Apply(AllSafe())
	wd := NewWatchdog(gate, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, breached := wd.Watch(ctx, func(Status) { t.Error("unexpected breach callback") })
	assert.False(t, breached)
}

type scriptedSource struct {
	mu     sync.Mutex
	status Status
	err    error
}

func (s *scriptedSource) CheckAllInterlocks(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err
}

func TestPoller_RefreshesGate(t *testing.T) {
	gate := NewGate(zap.NewNop())
	source := &scriptedSource{status: AllSafe()}
	poller := NewPoller(gate, source, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, poller.Start(ctx))
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return !gate.IsExposureBlocked()
	}, time.Second, 2*time.Millisecond)

	source.mu.Lock()
	source.status, _ = AllSafe().With(FlagThermalOK, false)
	source.mu.Unlock()

	require.Eventually(t, func() bool {
		return gate.IsExposureBlocked()
	}, time.Second, 2*time.Millisecond)
}

func TestPoller_SourceFaultFailsSafe(t *testing.T) {
	gate := NewGate(zap.NewNop())
	source := &scriptedSource{status: AllSafe()}
	poller := NewPoller(gate, source, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, poller.Start(ctx))
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return !gate.IsExposureBlocked()
	}, time.Second, 2*time.Millisecond)

	source.mu.Lock()
	source.err = errors.New("bus fault")
	source.mu.Unlock()

	// A hardware read fault must read as all-unsafe, never stale-safe.
	require.Eventually(t, func() bool {
		snap := gate.Snapshot()
		return snap.ExposureBlocked() && len(snap.UnsafeFlags()) == len(AllFlags())
	}, time.Second, 2*time.Millisecond)
}
