package netharness

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
)

const sampleFlowTable = `FlowID,Protocol,DSCP,Throughput(Mbps),AvgDelay(ms),PacketLossRate(%)
1,UDP,EF,4.5,12,0.5
2,TCP,BE,9.5,30,1.5
3,UDP,EF,5.5,14,1.5
4,TCP,BE,oops,30,1.5
`

func TestLoadFlowTable(t *testing.T) {
	t.Run("with a valid table and a malformed row", func(t *testing.T) {
		logger := &warningsLogger{}
		flows := LoadFlowTable(logger, writeTempFile(t, "flows.csv", sampleFlowTable))
		expect := []FlowRecord{
			{FlowID: 1, Protocol: "UDP", DSCP: "EF", ThroughputMbps: 4.5, AvgDelayMs: 12, PacketLossPercent: 0.5},
			{FlowID: 2, Protocol: "TCP", DSCP: "BE", ThroughputMbps: 9.5, AvgDelayMs: 30, PacketLossPercent: 1.5},
			{FlowID: 3, Protocol: "UDP", DSCP: "EF", ThroughputMbps: 5.5, AvgDelayMs: 14, PacketLossPercent: 1.5},
		}
		if diff := cmp.Diff(expect, flows); diff != "" {
			t.Fatal(diff)
		}
		if len(logger.Warnings()) != 1 {
			t.Fatal("expected one warning, got", logger.Warnings())
		}
	})

	t.Run("a missing file yields an empty table", func(t *testing.T) {
		logger := &warningsLogger{}
		flows := LoadFlowTable(logger, filepath.Join(t.TempDir(), "nonexistent.csv"))
		if flows == nil || len(flows) != 0 || len(logger.Warnings()) != 1 {
			t.Fatal("expected an empty table and one warning")
		}
	})

	t.Run("a table without mandatory columns yields an empty table", func(t *testing.T) {
		flows := LoadFlowTable(&NullLogger{}, writeTempFile(t, "flows.csv", "FlowID,Protocol\n1,UDP\n"))
		if len(flows) != 0 {
			t.Fatal("expected an empty table")
		}
	})
}

func TestParseFlowTable(t *testing.T) {
	t.Run("a read error stops parsing", func(t *testing.T) {
		logger := &warningsLogger{}
		eio := errors.New("input/output error")
		header := strings.NewReader(strings.SplitAfter(sampleFlowTable, "\n")[0])
		flows, err := ParseFlowTable(logger, io.MultiReader(header, iotest.ErrReader(eio)))
		if !errors.Is(err, eio) {
			t.Fatal("unexpected error", err)
		}
		if flows != nil || len(logger.Warnings()) != 0 {
			t.Fatal("expected no flows and no warnings")
		}
	})
}

func TestAggregateFlows(t *testing.T) {
	flows, err := ParseFlowTable(&NullLogger{}, strings.NewReader(sampleFlowTable))
	if err != nil {
		t.Fatal(err)
	}
	expectDSCP := map[string]FlowAggregate{
		"EF": {Flows: 2, ThroughputMbps: 5, AvgDelayMs: 13, PacketLossPercent: 1},
		"BE": {Flows: 1, ThroughputMbps: 9.5, AvgDelayMs: 30, PacketLossPercent: 1.5},
	}
	if diff := cmp.Diff(expectDSCP, AggregateFlowsByDSCP(flows)); diff != "" {
		t.Fatal(diff)
	}
	byProtocol := AggregateFlowsByProtocol(flows)
	if byProtocol["UDP"].Flows != 2 || byProtocol["TCP"].Flows != 1 {
		t.Fatal("unexpected aggregates", byProtocol)
	}
	if got := AggregateFlowsByDSCP(nil); len(got) != 0 {
		t.Fatal("expected no aggregates")
	}
}

func TestParseFlowMonitorText(t *testing.T) {
	text := `
Flow 1 (10.1.1.1:49153 -> 10.1.2.2:9)
  Throughput: 4.87 Mbps
  Average Delay: 12.5 ms
  Packet Loss Rate: 0.25%

Flow 2 (10.1.1.1:49154 -> 10.1.2.2:21)

Flow 3 (10.1.1.3:49155 -> 10.1.2.2:21)
  Throughput: 1.5e+01 Mbps
  Average Delay: 3 ms
  Packet Loss Rate: 0%
`
	expect := []FlowRecord{{
		FlowID:            1,
		Source:            "10.1.1.1:49153",
		Destination:       "10.1.2.2:9",
		ThroughputMbps:    4.87,
		AvgDelayMs:        12.5,
		PacketLossPercent: 0.25,
	}, {
		FlowID:      2,
		Source:      "10.1.1.1:49154",
		Destination: "10.1.2.2:21",
	}, {
		FlowID:         3,
		Source:         "10.1.1.3:49155",
		Destination:    "10.1.2.2:21",
		ThroughputMbps: 15,
		AvgDelayMs:     3,
	}}
	if diff := cmp.Diff(expect, ParseFlowMonitorText(text)); diff != "" {
		t.Fatal(diff)
	}
	if got := ParseFlowMonitorText("Throughput: 3 Mbps\n"); len(got) != 0 {
		t.Fatal("metrics without a flow header should be ignored")
	}
}
