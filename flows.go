package netharness

//
// Per-flow throughput tables
//

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
)

// FlowRecord contains the statistics of a single flow.
type FlowRecord struct {
	// FlowID is the flow identifier.
	FlowID int

	// Source and Destination are the endpoints as "address:port",
	// when known.
	Source      string
	Destination string

	// Protocol and DSCP are opaque grouping labels.
	Protocol string
	DSCP     string

	ThroughputMbps    float64
	AvgDelayMs        float64
	PacketLossPercent float64
}

// flowTableColumns are the mandatory columns of a flow table.
var flowTableColumns = []string{
	"FlowID", "Protocol", "DSCP", "Throughput(Mbps)", "AvgDelay(ms)", "PacketLossRate(%)",
}

// ParseFlowTable parses a CSV flow table. Malformed rows are skipped
// with a warning.
func ParseFlowTable(logger Logger, r io.Reader) ([]FlowRecord, error) {
	reader := newTableReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table", ErrBadHeader)
		}
		return nil, err
	}
	index, err := columnIndex(header, flowTableColumns...)
	if err != nil {
		return nil, err
	}
	out := []FlowRecord{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !isMalformedRow(err) {
			return nil, fmt.Errorf("netharness: reading flow table: %w", err)
		}
		if err == nil {
			var flow FlowRecord
			flow, err = parseFlowRecord(record, index)
			if err == nil {
				out = append(out, flow)
				continue
			}
		}
		logger.Warnf("netharness: flow table line %d: %s", line, err.Error())
	}
	return out, nil
}

// parseFlowRecord converts a CSV record into a [FlowRecord].
func parseFlowRecord(record []string, index map[string]int) (FlowRecord, error) {
	values := map[string]string{}
	for _, name := range flowTableColumns {
		idx := index[name]
		if idx >= len(record) {
			return FlowRecord{}, fmt.Errorf("missing %s field", name)
		}
		values[name] = strings.TrimSpace(record[idx])
	}
	id, err := strconv.Atoi(values["FlowID"])
	if err != nil {
		return FlowRecord{}, fmt.Errorf("invalid FlowID: %w", err)
	}
	flow := FlowRecord{FlowID: id, Protocol: values["Protocol"], DSCP: values["DSCP"]}
	for name, ptr := range map[string]*float64{
		"Throughput(Mbps)":  &flow.ThroughputMbps,
		"AvgDelay(ms)":      &flow.AvgDelayMs,
		"PacketLossRate(%)": &flow.PacketLossPercent,
	} {
		if *ptr, err = strconv.ParseFloat(values[name], 64); err != nil {
			return FlowRecord{}, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return flow, nil
}

// LoadFlowTable loads a CSV flow table from the given file. On failure, it
// logs a warning and returns an empty table.
func LoadFlowTable(logger Logger, path string) []FlowRecord {
	fp, err := openInput(path)
	if err != nil {
		logger.Warnf("netharness: cannot load flow table: %s", err.Error())
		return []FlowRecord{}
	}
	defer fp.Close()
	flows, err := ParseFlowTable(logger, fp)
	if err != nil {
		logger.Warnf("netharness: cannot parse flow table %s: %s", path, err.Error())
		return []FlowRecord{}
	}
	return flows
}

var (
	flowHeaderRegexp = regexp.MustCompile(`^Flow (\d+) \((\S+) -> (\S+)\)`)
	flowMetricRegexp = regexp.MustCompile(
		`^(Throughput|Average Delay|Packet Loss Rate):\s*(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`)
)

// ParseFlowMonitorText parses the text dump of a flow monitor, where each
// flow is introduced by a "Flow N (a:p -> b:p)" line followed by indented
// metric lines. Flows without metrics (no received packets) are kept with
// zero metrics. Unrecognized lines are ignored.
func ParseFlowMonitorText(text string) []FlowRecord {
	out := []FlowRecord{}
	var current *FlowRecord
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := flowHeaderRegexp.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			out = append(out, FlowRecord{FlowID: id, Source: m[2], Destination: m[3]})
			current = &out[len(out)-1]
			continue
		}
		m := flowMetricRegexp.FindStringSubmatch(line)
		if m == nil || current == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "Throughput":
			current.ThroughputMbps = value
		case "Average Delay":
			current.AvgDelayMs = value
		case "Packet Loss Rate":
			current.PacketLossPercent = value
		}
	}
	return out
}

// FlowAggregate contains the mean metrics of a group of flows.
type FlowAggregate struct {
	Flows             int
	ThroughputMbps    float64
	AvgDelayMs        float64
	PacketLossPercent float64
}

// AggregateFlows groups flows by the given label and computes the
// per-group means.
func AggregateFlows(flows []FlowRecord, label func(*FlowRecord) string) map[string]FlowAggregate {
	groups := map[string][]*FlowRecord{}
	for idx := range flows {
		key := label(&flows[idx])
		groups[key] = append(groups[key], &flows[idx])
	}
	out := map[string]FlowAggregate{}
	for key, group := range groups {
		var throughput, delay, loss stats.Float64Data
		for _, flow := range group {
			throughput = append(throughput, flow.ThroughputMbps)
			delay = append(delay, flow.AvgDelayMs)
			loss = append(loss, flow.PacketLossPercent)
		}
		agg := FlowAggregate{Flows: len(group)}
		agg.ThroughputMbps, _ = throughput.Mean()
		agg.AvgDelayMs, _ = delay.Mean()
		agg.PacketLossPercent, _ = loss.Mean()
		out[key] = agg
	}
	return out
}

// AggregateFlowsByDSCP is [AggregateFlows] grouping by DSCP label.
func AggregateFlowsByDSCP(flows []FlowRecord) map[string]FlowAggregate {
	return AggregateFlows(flows, func(fr *FlowRecord) string { return fr.DSCP })
}

// AggregateFlowsByProtocol is [AggregateFlows] grouping by protocol label.
func AggregateFlowsByProtocol(flows []FlowRecord) map[string]FlowAggregate {
	return AggregateFlows(flows, func(fr *FlowRecord) string { return fr.Protocol })
}
