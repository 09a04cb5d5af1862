package netharness

//
// Latency extraction from structured event logs
//

import (
	"net"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
)

// GatewayPeer is the peer name we use for pair keys of samples
// extracted from structured logs.
const GatewayPeer = "gateway"

// ipv6Regexp and ipv4Regexp find addresses embedded in free text.
var (
	ipv6Regexp = regexp.MustCompile(`[0-9A-Fa-f]{0,4}(?::[0-9A-Fa-f]{0,4}){2,7}`)
	ipv4Regexp = regexp.MustCompile(`\d{1,3}(?:\.\d{1,3}){3}`)
)

// AddressSuffix returns the component following the final separator of
// the last address embedded in details (e.g., "1" for "... fe80::1" or
// "... 10.0.0.1"). When there is no recognizable address, we use the
// last whitespace separated token instead. The boolean is false when
// details is empty.
func AddressSuffix(details string) (string, bool) {
	candidate, end := "", -1
	for _, re := range []*regexp.Regexp{ipv6Regexp, ipv4Regexp} {
		for _, loc := range re.FindAllStringIndex(details, -1) {
			match := details[loc[0]:loc[1]]
			// the IPv6 pattern also matches clock times like 12:30:45
			if re == ipv6Regexp && net.ParseIP(match) == nil {
				continue
			}
			if loc[1] > end {
				candidate, end = match, loc[1]
			}
		}
	}
	if candidate == "" {
		fields := strings.Fields(details)
		if len(fields) <= 0 {
			return "", false
		}
		candidate = strings.TrimRight(fields[len(fields)-1], ",;)]")
	}
	if idx := strings.LastIndexAny(candidate, ":./"); idx >= 0 {
		candidate = candidate[idx+1:]
	}
	return candidate, candidate != ""
}

// CorrelateLatencies pairs each SentPacket row with the earliest later
// GatewayResponse row whose address suffix equals the decimal string of
// the sender node ID plus one and returns one [LatencySample] per match,
// in the order of the SentPacket rows. Unmatched rows produce nothing.
//
// This is a heuristic matching node N to the address ending in N+1. It
// does not consume responses and does not disambiguate concurrent
// activity, so it only makes sense for single digit node IDs.
func CorrelateLatencies(rows []LogRow) []LatencySample {
	type response struct {
		row    *LogRow
		suffix string
	}
	var responses []response
	for idx := range rows {
		if rows[idx].Event != EventGatewayResponse {
			continue
		}
		suffix, ok := AddressSuffix(rows[idx].Details)
		if !ok {
			continue
		}
		responses = append(responses, response{row: &rows[idx], suffix: suffix})
	}
	slices.SortStableFunc(responses, func(a, b response) int {
		switch {
		case a.row.Timestamp < b.row.Timestamp:
			return -1
		case a.row.Timestamp > b.row.Timestamp:
			return 1
		default:
			return 0
		}
	})

	out := []LatencySample{}
	for idx := range rows {
		sent := &rows[idx]
		if sent.Event != EventSentPacket {
			continue
		}
		want := strconv.Itoa(sent.NodeID + 1)
		for _, resp := range responses {
			if resp.row.Timestamp <= sent.Timestamp || resp.suffix != want {
				continue
			}
			out = append(out, LatencySample{
				PairKey: NewPairKey(strconv.Itoa(sent.NodeID), GatewayPeer),
				Seconds: resp.row.Timestamp - sent.Timestamp,
				Origin:  OriginLogRow,
				Row:     sent,
			})
			break
		}
	}
	return out
}

// temperatureRegexp matches a numeral immediately preceding a temperature unit.
var temperatureRegexp = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s?(°C|°F|℃|℉|degC|degF)`)

// ExtractTemperature returns the first temperature reading embedded in
// details, in the unit in which it is written.
func ExtractTemperature(details string) (float64, bool) {
	m := temperatureRegexp.FindStringSubmatch(details)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	return value, err == nil
}

// AverageTemperatures returns the mean temperature reading of the
// SentPacket rows of each node. Nodes without readings are omitted.
func AverageTemperatures(rows []LogRow) map[int]float64 {
	readings := map[int][]float64{}
	for _, row := range rows {
		if row.Event != EventSentPacket {
			continue
		}
		if value, ok := ExtractTemperature(row.Details); ok {
			readings[row.NodeID] = append(readings[row.NodeID], value)
		}
	}
	out := map[int]float64{}
	for node, values := range readings {
		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		out[node] = mean
	}
	return out
}

// CountSentPackets returns the number of SentPacket rows of each node.
func CountSentPackets(rows []LogRow) map[int]int {
	out := map[int]int{}
	for _, row := range rows {
		if row.Event == EventSentPacket {
			out[row.NodeID]++
		}
	}
	return out
}
