package netharness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticEndpoint is a [ControllerEndpoint] in a fixed state.
type staticEndpoint struct {
	state ControllerState
}

func (se *staticEndpoint) Address() string {
	return "127.0.0.1:6633"
}

func (se *staticEndpoint) State() ControllerState {
	return se.state
}

// recordingEmulator returns a [MockableEmulator] counting setups and teardowns.
func recordingEmulator(setupErr error) (*MockableEmulator, *atomic.Int64, *atomic.Int64) {
	setups, teardowns := &atomic.Int64{}, &atomic.Int64{}
	me := &MockableEmulator{
		MockSetup: func(ctx context.Context, topology *Topology, controllerAddress string) error {
			setups.Add(1)
			return setupErr
		},
		MockNodeAddress: func(nodeID string) string {
			return map[string]string{"h1": "10.0.0.1", "h2": "10.0.0.2"}[nodeID]
		},
		MockExec: func(ctx context.Context, nodeID string, command string) (string, error) {
			return nodeID + ": " + command, nil
		},
		MockSpawn: func(ctx context.Context, nodeID string, command string) (BackgroundProcess, error) {
			return BackgroundProcessFunc(func() error { return nil }), nil
		},
		MockTeardown: func(ctx context.Context) error {
			teardowns.Add(1)
			return nil
		},
	}
	return me, setups, teardowns
}

// twoHostsTopology returns h1 and h2 connected to s1.
func twoHostsTopology(t *testing.T) *Topology {
	topology, err := NewStarTopology("s1", []string{"h1", "h2"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return topology
}

func TestNetworkHarness(t *testing.T) {
	t.Run("Start fails when the controller is not ready", func(t *testing.T) {
		me, setups, _ := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		for _, state := range []ControllerState{ControllerIdle, ControllerStarting, ControllerFailed, ControllerTerminated} {
			net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{state})
			if !errors.Is(err, ErrControllerNotReady) {
				t.Fatal("unexpected error", err)
			}
			if net != nil {
				t.Fatal("expected nil network")
			}
		}
		if setups.Load() != 0 {
			t.Fatal("we should not have called Setup")
		}
	})

	t.Run("a failed Setup tears down and returns ErrNetworkStartFailure", func(t *testing.T) {
		expected := errors.New("mocked error")
		me, _, teardowns := recordingEmulator(expected)
		h := NewNetworkHarness(&NullLogger{}, me)
		_, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if !errors.Is(err, ErrNetworkStartFailure) || !errors.Is(err, expected) {
			t.Fatal("unexpected error", err)
		}
		if teardowns.Load() != 1 {
			t.Fatal("expected exactly one teardown")
		}
	})

	t.Run("Exec runs commands on known nodes only", func(t *testing.T) {
		me, _, _ := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if err != nil {
			t.Fatal(err)
		}
		defer net.Stop()
		output, err := net.Exec(context.Background(), "h1", "hostname")
		if err != nil {
			t.Fatal(err)
		}
		if output != "h1: hostname" {
			t.Fatal("unexpected output", output)
		}
		if _, err := net.Exec(context.Background(), "h9", "hostname"); !errors.Is(err, ErrUnknownNode) {
			t.Fatal("unexpected error", err)
		}
		if _, err := net.Address("h9"); !errors.Is(err, ErrUnknownNode) {
			t.Fatal("unexpected error", err)
		}
		addr, err := net.Address("h2")
		if err != nil || addr != "10.0.0.2" {
			t.Fatal("unexpected address", addr, err)
		}
	})

	t.Run("a second Start while running fails", func(t *testing.T) {
		me, _, _ := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if err != nil {
			t.Fatal(err)
		}
		defer net.Stop()
		if _, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady}); !errors.Is(err, ErrNetworkAlreadyRunning) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("Stop is idempotent and no operation is valid afterwards", func(t *testing.T) {
		me, _, teardowns := recordingEmulator(nil)
		var stopped atomic.Int64
		me.MockSpawn = func(ctx context.Context, nodeID string, command string) (BackgroundProcess, error) {
			return BackgroundProcessFunc(func() error {
				stopped.Add(1)
				return nil
			}), nil
		}
		h := NewNetworkHarness(&NullLogger{}, me)
		net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if err != nil {
			t.Fatal(err)
		}
		if err := net.Spawn(context.Background(), "h2", "python3 -m http.server"); err != nil {
			t.Fatal(err)
		}
		for idx := 0; idx < 3; idx++ {
			if err := net.Stop(); err != nil {
				t.Fatal(err)
			}
		}
		if err := h.Stop(); err != nil {
			t.Fatal(err)
		}
		if teardowns.Load() != 1 {
			t.Fatal("expected exactly one teardown, got", teardowns.Load())
		}
		if stopped.Load() != 1 {
			t.Fatal("expected the spawned process to be stopped once")
		}
		if net.Running() {
			t.Fatal("the network is still running")
		}
		if _, err := net.Exec(context.Background(), "h1", "true"); !errors.Is(err, ErrNetworkNotRunning) {
			t.Fatal("unexpected error", err)
		}
		if err := net.Spawn(context.Background(), "h1", "true"); !errors.Is(err, ErrNetworkNotRunning) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("Stop on a harness that never started is a no-op", func(t *testing.T) {
		me, _, teardowns := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		if err := h.Stop(); err != nil {
			t.Fatal(err)
		}
		if teardowns.Load() != 0 {
			t.Fatal("unexpected teardown")
		}
	})

	t.Run("Stop tears down even when the run context is cancelled", func(t *testing.T) {
		me, _, _ := recordingEmulator(nil)
		var teardownCtxErr error
		me.MockTeardown = func(ctx context.Context) error {
			teardownCtxErr = ctx.Err()
			return nil
		}
		h := NewNetworkHarness(&NullLogger{}, me)
		ctx, cancel := context.WithCancel(context.Background())
		net, err := h.Start(ctx, twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if err != nil {
			t.Fatal(err)
		}
		cancel()
		if err := net.Stop(); err != nil {
			t.Fatal(err)
		}
		if teardownCtxErr != nil {
			t.Fatal("teardown received a cancelled context")
		}
	})

	t.Run("Stop returns the teardown error on every call", func(t *testing.T) {
		expected := errors.New("mocked error")
		me, _, _ := recordingEmulator(nil)
		me.MockTeardown = func(ctx context.Context) error {
			return expected
		}
		h := NewNetworkHarness(&NullLogger{}, me)
		net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
		if err != nil {
			t.Fatal(err)
		}
		for idx := 0; idx < 2; idx++ {
			if err := net.Stop(); !errors.Is(err, expected) {
				t.Fatal("unexpected error", err)
			}
		}
	})
}

func TestEmulatedNetworkExecIsSingleWriterPerNode(t *testing.T) {
	me, _, _ := recordingEmulator(nil)
	var inflight, maxInflight atomic.Int64
	me.MockExec = func(ctx context.Context, nodeID string, command string) (string, error) {
		current := inflight.Add(1)
		for {
			old := maxInflight.Load()
			if current <= old || maxInflight.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return "ok", nil
	}
	h := NewNetworkHarness(&NullLogger{}, me)
	net, err := h.Start(context.Background(), twoHostsTopology(t), &staticEndpoint{ControllerReady})
	if err != nil {
		t.Fatal(err)
	}
	defer net.Stop()

	wg := &sync.WaitGroup{}
	for idx := 0; idx < 8; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := net.Exec(context.Background(), "h1", "true"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if maxInflight.Load() != 1 {
		t.Fatal("concurrent commands on the same node", maxInflight.Load())
	}
}

func TestWithNetwork(t *testing.T) {
	t.Run("the network is stopped when fn fails", func(t *testing.T) {
		me, _, teardowns := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		expected := errors.New("mocked error")
		err := WithNetwork(context.Background(), h, twoHostsTopology(t), &staticEndpoint{ControllerReady},
			func(ctx context.Context, net *EmulatedNetwork) error {
				if !net.Running() {
					t.Fatal("the network is not running")
				}
				return expected
			})
		if !errors.Is(err, expected) {
			t.Fatal("unexpected error", err)
		}
		if teardowns.Load() != 1 {
			t.Fatal("expected exactly one teardown")
		}
	})

	t.Run("the network is stopped when fn panics", func(t *testing.T) {
		me, _, teardowns := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected a panic")
				}
			}()
			WithNetwork(context.Background(), h, twoHostsTopology(t), &staticEndpoint{ControllerReady},
				func(ctx context.Context, net *EmulatedNetwork) error {
					panic("mocked panic")
				})
		}()
		if teardowns.Load() != 1 {
			t.Fatal("expected exactly one teardown")
		}
	})

	t.Run("fn is not called when the controller is not ready", func(t *testing.T) {
		me, _, _ := recordingEmulator(nil)
		h := NewNetworkHarness(&NullLogger{}, me)
		err := WithNetwork(context.Background(), h, twoHostsTopology(t), &staticEndpoint{ControllerFailed},
			func(ctx context.Context, net *EmulatedNetwork) error {
				t.Fatal("should not be called")
				return nil
			})
		if !errors.Is(err, ErrControllerNotReady) {
			t.Fatal("unexpected error", err)
		}
	})
}
