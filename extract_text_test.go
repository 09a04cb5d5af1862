package netharness

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestExtractPingLatencies(t *testing.T) {

	// testcase describes a test case for [ExtractPingLatencies]
	type testcase struct {
		// name is the name of this test case
		name string

		// input is the raw ping output
		input string

		// expect contains the values we expect
		expect []float64
	}

	var testcases = []testcase{{
		name:   "with two replies in order",
		input:  "64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=12.3 ms\n64 bytes from 10.0.0.2: icmp_seq=2 ttl=64 time=9.8 ms\n",
		expect: []float64{12.3, 9.8},
	}, {
		name:   "with the full ping output",
		input:  samplePingOutput,
		expect: []float64{12.3, 9.8},
	}, {
		name:   "with no marker at all",
		input:  "PING 10.0.0.2 (10.0.0.2) 56(84) bytes of data.\nFrom 10.0.0.1 icmp_seq=1 Destination Host Unreachable\n",
		expect: []float64{},
	}, {
		name:   "with empty output",
		input:  "",
		expect: []float64{},
	}, {
		name:   "with integer values",
		input:  "64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=7 ms\n",
		expect: []float64{7},
	}, {
		name:   "with sub-millisecond busybox style output",
		input:  "64 bytes from 10.0.0.2: seq=0 ttl=64 time=0.061 ms\n",
		expect: []float64{0.061},
	}, {
		name:   "with the busybox less-than marker for sub-millisecond replies",
		input:  "64 bytes from 10.0.0.2: seq=0 ttl=64 time<1 ms\n",
		expect: []float64{1},
	}}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractPingLatencies(tc.input)
			if diff := cmp.Diff(tc.expect, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestPingSamples(t *testing.T) {
	result := &ProbeResult{
		Source:    "h1",
		Target:    "h2",
		Protocol:  ProtocolICMP,
		RawOutput: "time=12.5 ms\ntime=2 s\ntime=250 us\n",
	}
	samples := PingSamples(result)
	expect := []float64{0.0125, 2, 0.00025}
	if len(samples) != len(expect) {
		t.Fatal("unexpected number of samples", len(samples))
	}
	for idx, sample := range samples {
		if math.Abs(sample.Seconds-expect[idx]) > 1e-12 {
			t.Fatal("sample", idx, "has unexpected value", sample.Seconds)
		}
		if sample.PairKey != "h1->h2" || sample.Origin != OriginProbe || sample.Probe != result {
			t.Fatal("sample", idx, "has unexpected provenance", sample)
		}
	}
	if PingSamples(nil) != nil {
		t.Fatal("expected nil samples for a nil result")
	}
}

func TestParsePingStatistics(t *testing.T) {
	got, ok := ParsePingStatistics(samplePingOutput)
	if !ok {
		t.Fatal("expected statistics")
	}
	if diff := cmp.Diff(PingStatistics{Transmitted: 2, Received: 2, LossPercent: 0}, got); diff != "" {
		t.Fatal(diff)
	}
	got, ok = ParsePingStatistics("4 packets transmitted, 1 received, +3 errors, 75% packet loss, time 3004ms")
	if !ok || got.LossPercent != 75 || got.Received != 1 {
		t.Fatal("unexpected statistics", got, ok)
	}
	if _, ok := ParsePingStatistics("nothing here"); ok {
		t.Fatal("expected no statistics")
	}
}

func TestExtractPingLatenciesProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("skip test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("values are extracted in order of appearance", prop.ForAll(
		func(values []float64, noise string) bool {
			var sb strings.Builder
			var expect []float64
			for idx, value := range values {
				formatted := strconv.FormatFloat(value, 'f', 3, 64)
				parsed, _ := strconv.ParseFloat(formatted, 64)
				expect = append(expect, parsed)
				fmt.Fprintf(&sb, "%s\n64 bytes from 10.0.0.2: icmp_seq=%d ttl=64 time=%s ms\n", noise, idx+1, formatted)
			}
			return cmp.Equal(append([]float64{}, expect...), ExtractPingLatencies(sb.String()))
		},
		gen.SliceOf(gen.Float64Range(0, 10000)),
		gen.AlphaString(),
	))

	properties.Property("output without markers yields nothing", prop.ForAll(
		func(lines []string) bool {
			return len(ExtractPingLatencies(strings.Join(lines, "\n"))) == 0
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
