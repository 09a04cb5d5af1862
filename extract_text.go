package netharness

//
// Latency extraction from probe output
//

import (
	"regexp"
	"strconv"
	"strings"
)

// pingTimeRegexp matches the per-reply round trip time marker. The
// value may be an integer and may carry a unit, defaulting to ms. We also
// accept the `time<1` form busybox prints for sub-millisecond replies.
var pingTimeRegexp = regexp.MustCompile(`time[=<](\d+(?:\.\d+)?)(?:\s*(ms|us|µs|s)\b)?`)

// ExtractPingLatencies returns the round trip times found in the raw
// output of a ping probe, in the unit printed by ping (usually ms) and
// in order of appearance. Lines without a marker contribute nothing, so
// output without markers yields an empty slice.
func ExtractPingLatencies(raw string) []float64 {
	out := []float64{}
	for _, match := range findPingTimes(raw) {
		out = append(out, match.value)
	}
	return out
}

// pingTime is a round trip time along with its unit.
type pingTime struct {
	value float64
	unit  string
}

// seconds converts the value to seconds.
func (pt pingTime) seconds() float64 {
	switch pt.unit {
	case "s":
		return pt.value
	case "us", "µs":
		return pt.value / 1e6
	default:
		return pt.value / 1e3
	}
}

// findPingTimes finds all the round trip times in raw.
func findPingTimes(raw string) (out []pingTime) {
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, "time") {
			continue
		}
		for _, m := range pingTimeRegexp.FindAllStringSubmatch(line, -1) {
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			out = append(out, pingTime{value: value, unit: m[2]})
		}
	}
	return
}

// PingSamples converts the round trip times of a ping [ProbeResult]
// into [LatencySample]s expressed in seconds.
func PingSamples(result *ProbeResult) []LatencySample {
	if result == nil {
		return nil
	}
	var out []LatencySample
	for _, pt := range findPingTimes(result.RawOutput) {
		out = append(out, LatencySample{
			PairKey: result.PairKey(),
			Seconds: pt.seconds(),
			Origin:  OriginProbe,
			Probe:   result,
		})
	}
	return out
}

// PingStatistics contains the packet counters printed by ping at the end.
type PingStatistics struct {
	Transmitted int
	Received    int
	LossPercent float64
}

var pingStatsRegexp = regexp.MustCompile(
	`(\d+) packets transmitted, (\d+) (?:packets )?received.*?(\d+(?:\.\d+)?)% packet loss`)

// ParsePingStatistics parses the summary line of a ping output. The
// boolean is false when there is no summary line.
func ParsePingStatistics(raw string) (PingStatistics, bool) {
	m := pingStatsRegexp.FindStringSubmatch(raw)
	if m == nil {
		return PingStatistics{}, false
	}
	tx, _ := strconv.Atoi(m[1])
	rx, _ := strconv.Atoi(m[2])
	loss, _ := strconv.ParseFloat(m[3], 64)
	return PingStatistics{Transmitted: tx, Received: rx, LossPercent: loss}, true
}
