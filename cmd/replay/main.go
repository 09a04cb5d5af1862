// Command replay extracts metrics from the artifacts of previous runs
// (ping output, structured event logs, numeric series, flow tables and
// packet captures) and prints summaries.
package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/bassosimone/netharness"
)

func main() {
	// parse command line flags
	ping := flag.String("ping", "", "file containing ping output")
	events := flag.String("log", "", "CSV structured event log")
	series := flag.String("series", "", "whitespace delimited numeric series")
	flows := flag.String("flows", "", "CSV flow table")
	flowText := flag.String("flow-text", "", "flow monitor text dump")
	capture := flag.String("pcap", "", "packet capture file")
	flag.Parse()

	log.SetHandler(cli.Default)

	if *ping != "" {
		replayPing(*ping)
	}
	if *events != "" {
		replayLog(*events)
	}
	if *series != "" {
		values := netharness.LoadSeries(log.Log, *series, nil)
		printSummary("series", *series, netharness.Summarize(values))
	}
	if *flows != "" {
		printFlows(netharness.LoadFlowTable(log.Log, *flows))
	}
	if *flowText != "" {
		data, err := os.ReadFile(*flowText)
		if err != nil {
			log.WithError(err).Warn("os.ReadFile")
		}
		printFlows(netharness.ParseFlowMonitorText(string(data)))
	}
	if *capture != "" {
		samples := netharness.ExtractICMPLatenciesFromPCAP(log.Log, *capture)
		groups := netharness.GroupByPair(samples)
		for _, key := range netharness.SortedKeys(groups) {
			printSummary("pcap", key, netharness.Summarize(netharness.Seconds(groups[key])))
		}
	}
}

// replayPing extracts the round trip times from a saved ping output.
func replayPing(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("os.ReadFile")
		return
	}
	values := netharness.ExtractPingLatencies(string(data))
	printSummary("ping", path, netharness.Summarize(values))
	if pstats, ok := netharness.ParsePingStatistics(string(data)); ok {
		log.WithFields(log.Fields{
			"transmitted": pstats.Transmitted,
			"received":    pstats.Received,
			"loss":        pstats.LossPercent,
		}).Info("ping statistics")
	}
}

// replayLog correlates the events of a structured log.
func replayLog(path string) {
	rows := netharness.LoadLogTable(log.Log, path)
	samples := netharness.CorrelateLatencies(rows)
	groups := netharness.GroupByPair(samples)
	for _, key := range netharness.SortedKeys(groups) {
		printSummary("log", key, netharness.Summarize(netharness.Seconds(groups[key])))
	}
	temperatures := netharness.AverageTemperatures(rows)
	for node, count := range netharness.CountSentPackets(rows) {
		fields := log.Fields{"node": node, "sent": count}
		if value, found := temperatures[node]; found {
			fields["temperature"] = strconv.FormatFloat(value, 'f', 2, 64)
		}
		log.WithFields(fields).Info("node")
	}
}

// printSummary prints a summary as a structured log line.
func printSummary(kind, key string, s netharness.LatencySummary) {
	log.WithFields(log.Fields{
		"kind":   kind,
		"key":    key,
		"count":  s.Count,
		"min":    s.Min,
		"mean":   s.Mean,
		"median": s.Median,
		"p95":    s.P95,
		"max":    s.Max,
		"stddev": s.StdDev,
	}).Info("summary")
}

// printFlows prints the per-DSCP and per-protocol aggregates.
func printFlows(flows []netharness.FlowRecord) {
	for name, groups := range map[string]map[string]netharness.FlowAggregate{
		"dscp":     netharness.AggregateFlowsByDSCP(flows),
		"protocol": netharness.AggregateFlowsByProtocol(flows),
	} {
		for _, key := range netharness.SortedKeys(groups) {
			agg := groups[key]
			log.WithFields(log.Fields{
				"by":         name,
				"label":      key,
				"flows":      agg.Flows,
				"throughput": agg.ThroughputMbps,
				"delay_ms":   agg.AvgDelayMs,
				"loss":       agg.PacketLossPercent,
			}).Info("flows")
		}
	}
}
