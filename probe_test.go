package netharness

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// mockExecutor is a [NodeExecutor] for testing probes.
type mockExecutor struct {
	addresses map[string]string
	exec      func(nodeID, command string) (string, error)

	mu      sync.Mutex
	spawned []string
}

var _ NodeExecutor = &mockExecutor{}

func (me *mockExecutor) Address(nodeID string) (string, error) {
	addr, found := me.addresses[nodeID]
	if !found {
		return "", ErrUnknownNode
	}
	return addr, nil
}

func (me *mockExecutor) Exec(ctx context.Context, nodeID string, command string) (string, error) {
	if _, found := me.addresses[nodeID]; !found {
		return "", ErrUnknownNode
	}
	return me.exec(nodeID, command)
}

func (me *mockExecutor) Spawn(ctx context.Context, nodeID string, command string) error {
	defer me.mu.Unlock()
	me.mu.Lock()
	me.spawned = append(me.spawned, nodeID+": "+command)
	return nil
}

// newMockExecutor creates a [mockExecutor] for h1, h2 and server.
func newMockExecutor(exec func(nodeID, command string) (string, error)) *mockExecutor {
	return &mockExecutor{
		addresses: map[string]string{"h1": "10.0.0.1", "h2": "10.0.0.2", "server": "10.0.0.5"},
		exec:      exec,
	}
}

const samplePingOutput = `PING 10.0.0.2 (10.0.0.2) 56(84) bytes of data.
64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=12.3 ms
64 bytes from 10.0.0.2: icmp_seq=2 ttl=64 time=9.8 ms

--- 10.0.0.2 ping statistics ---
2 packets transmitted, 2 received, 0% packet loss, time 1001ms
rtt min/avg/max/mdev = 9.800/11.050/12.300/1.250 ms
`

func TestConnectivityProbe(t *testing.T) {
	fixedTime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("PingSequence captures the output verbatim", func(t *testing.T) {
		var commands []string
		ex := newMockExecutor(func(nodeID, command string) (string, error) {
			commands = append(commands, nodeID+": "+command)
			return samplePingOutput, nil
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		probe.TimeNow = func() time.Time { return fixedTime }
		result, err := probe.PingSequence(context.Background(), "h1", "h2", 4)
		if err != nil {
			t.Fatal(err)
		}
		expect := &ProbeResult{
			Source:    "h1",
			Target:    "h2",
			Protocol:  ProtocolICMP,
			RawOutput: samplePingOutput,
			IssuedAt:  fixedTime,
		}
		if diff := cmp.Diff(expect, result); diff != "" {
			t.Fatal(diff)
		}
		if diff := cmp.Diff([]string{"h1: ping -c 4 10.0.0.2"}, commands); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("PingSequence keeps the output of a failing command", func(t *testing.T) {
		ex := newMockExecutor(func(nodeID, command string) (string, error) {
			return "1 packets transmitted, 0 received, 100% packet loss", errors.New("exit status 1")
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		result, err := probe.PingSequence(context.Background(), "h1", "h2", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(result.RawOutput, "100% packet loss") {
			t.Fatal("unexpected output", result.RawOutput)
		}
	})

	t.Run("PingSequence fails when there is no output", func(t *testing.T) {
		ex := newMockExecutor(func(nodeID, command string) (string, error) {
			return "", nil
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		result, err := probe.PingSequence(context.Background(), "h1", "h2", 4)
		if !errors.Is(err, ErrProbeExecutionFailed) {
			t.Fatal("unexpected error", err)
		}
		if !strings.Contains(err.Error(), "ping -c 4 10.0.0.2") {
			t.Fatal("the error does not mention the command", err)
		}
		if result != nil {
			t.Fatal("expected nil result")
		}
	})

	t.Run("PingSequence with unknown nodes", func(t *testing.T) {
		ex := newMockExecutor(func(nodeID, command string) (string, error) {
			return samplePingOutput, nil
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		if _, err := probe.PingSequence(context.Background(), "h1", "h9", 4); !errors.Is(err, ErrUnknownNode) {
			t.Fatal("unexpected error", err)
		}
		if _, err := probe.PingSequence(context.Background(), "h9", "h1", 4); !errors.Is(err, ErrUnknownNode) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("HTTPCheck reports success on nonempty output", func(t *testing.T) {
		var command string
		ex := newMockExecutor(func(nodeID, cmd string) (string, error) {
			command = cmd
			return "<html>Directory listing</html>", nil
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		result, err := probe.HTTPCheck(context.Background(), "h1", "server", 8000)
		if err != nil {
			t.Fatal(err)
		}
		if command != "curl -s http://10.0.0.5:8000" {
			t.Fatal("unexpected command", command)
		}
		if !HTTPSucceeded(result) || result.Protocol != ProtocolHTTP {
			t.Fatal("unexpected result", result)
		}
	})

	t.Run("HTTPCheck reports failure on empty output", func(t *testing.T) {
		ex := newMockExecutor(func(nodeID, cmd string) (string, error) {
			return "", errors.New("exit status 7")
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		result, err := probe.HTTPCheck(context.Background(), "h1", "server", 8000)
		if err != nil {
			t.Fatal(err)
		}
		if HTTPSucceeded(result) {
			t.Fatal("expected failure")
		}
		if result.Source != "h1" || result.Target != "server" {
			t.Fatal("unexpected result", result)
		}
	})

	t.Run("StartCapture spawns tcpdump on the node interface", func(t *testing.T) {
		ex := newMockExecutor(nil)
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		if err := probe.StartCapture(context.Background(), "h1", "", "/tmp/h1.pcap"); err != nil {
			t.Fatal(err)
		}
		expect := []string{"h1: tcpdump -n -U -i h1-eth0 -w /tmp/h1.pcap icmp"}
		if diff := cmp.Diff(expect, ex.spawned); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestConnectivityProbeRunPlan(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		ex := newMockExecutor(func(nodeID, command string) (string, error) {
			switch {
			case strings.HasPrefix(command, "ping") && strings.HasSuffix(command, "10.0.0.1"):
				return "", nil // h2 -> h1 produces no output
			case strings.HasPrefix(command, "ping"):
				return nodeID + " " + samplePingOutput, nil
			case nodeID == "h2":
				return "", nil
			default:
				return "<html></html>", nil
			}
		})
		probe := NewConnectivityProbe(&NullLogger{}, ex)
		plan := &ProbePlan{
			Pings: []PingPair{
				{Source: "h1", Target: "h2"},
				{Source: "h2", Target: "h1"},
				{Source: "server", Target: "h2"},
			},
			PingCount:   2,
			HTTPSources: []string{"h1", "h2"},
			HTTPTarget:  "server",
			HTTPPort:    8000,
			Concurrency: concurrency,
		}
		result := probe.RunPlan(context.Background(), plan)

		if len(result.Pings) != 3 {
			t.Fatal("unexpected number of ping results", len(result.Pings))
		}
		if result.Pings[0] == nil || !strings.HasPrefix(result.Pings[0].RawOutput, "h1 ") {
			t.Fatal("unexpected first result", result.Pings[0])
		}
		if result.Pings[1] != nil {
			t.Fatal("expected nil second result")
		}
		if result.Pings[2] == nil || !strings.HasPrefix(result.Pings[2].RawOutput, "server ") {
			t.Fatal("unexpected third result", result.Pings[2])
		}
		if len(result.Errors) != 1 || !errors.Is(result.Errors[0], ErrProbeExecutionFailed) {
			t.Fatal("unexpected errors", result.Errors)
		}
		if len(result.HTTP) != 2 || !HTTPSucceeded(result.HTTP[0]) || HTTPSucceeded(result.HTTP[1]) {
			t.Fatal("unexpected HTTP results", result.HTTP)
		}
	}
}
