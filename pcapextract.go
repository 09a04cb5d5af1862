package netharness

//
// Latency extraction from packet captures
//

import (
	"errors"
	"io"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// icmpEchoKey identifies an ICMP echo exchange as seen from the requester.
type icmpEchoKey struct {
	src, dst string
	id, seq  uint16
}

// icmpEcho is a dissected ICMPv4 echo request or reply.
type icmpEcho struct {
	key       icmpEchoKey
	reply     bool
	timestamp time.Time
}

// dissectICMPEcho returns the echo request or reply contained in the packet.
func dissectICMPEcho(packet gopacket.Packet, timestamp time.Time) (*icmpEcho, bool) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, false
	}
	ip := ipLayer.(*layers.IPv4)
	icmpLayer := packet.Layer(layers.LayerTypeICMPv4)
	if icmpLayer == nil {
		return nil, false
	}
	icmp := icmpLayer.(*layers.ICMPv4)

	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest:
		return &icmpEcho{
			key:       icmpEchoKey{src: ip.SrcIP.String(), dst: ip.DstIP.String(), id: icmp.Id, seq: icmp.Seq},
			timestamp: timestamp,
		}, true

	case layers.ICMPv4TypeEchoReply:
		// flip addresses so the key matches the request
		return &icmpEcho{
			key:       icmpEchoKey{src: ip.DstIP.String(), dst: ip.SrcIP.String(), id: icmp.Id, seq: icmp.Seq},
			reply:     true,
			timestamp: timestamp,
		}, true

	default:
		return nil, false
	}
}

// ParseICMPLatencies reads a pcap stream and matches ICMPv4 echo requests
// with their replies by (source, destination, identifier, sequence number).
// Each match yields a [LatencySample] keyed by the requester and responder
// addresses. Samples are sorted by request time. Unanswered requests yield
// nothing and a truncated capture yields the samples read so far.
func ParseICMPLatencies(logger Logger, r io.Reader) ([]LatencySample, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}

	type sample struct {
		sent time.Time
		LatencySample
	}
	requests := map[icmpEchoKey]time.Time{}
	var matched []sample

	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warnf("netharness: pcap: %s", err.Error())
			break
		}
		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Lazy)
		echo, ok := dissectICMPEcho(packet, ci.Timestamp)
		if !ok {
			continue
		}
		if !echo.reply {
			if _, found := requests[echo.key]; !found {
				requests[echo.key] = echo.timestamp
			}
			continue
		}
		sent, found := requests[echo.key]
		if !found {
			continue
		}
		delete(requests, echo.key)
		matched = append(matched, sample{
			sent: sent,
			LatencySample: LatencySample{
				PairKey: NewPairKey(echo.key.src, echo.key.dst),
				Seconds: echo.timestamp.Sub(sent).Seconds(),
				Origin:  OriginCapture,
			},
		})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].sent.Before(matched[j].sent)
	})
	out := []LatencySample{}
	for _, s := range matched {
		out = append(out, s.LatencySample)
	}
	return out, nil
}

// ExtractICMPLatenciesFromPCAP is like [ParseICMPLatencies] but reads the
// given file and degrades any failure to an empty result and a warning.
func ExtractICMPLatenciesFromPCAP(logger Logger, path string) []LatencySample {
	fp, err := openInput(path)
	if err != nil {
		logger.Warnf("netharness: cannot open capture: %s", err.Error())
		return []LatencySample{}
	}
	defer fp.Close()
	samples, err := ParseICMPLatencies(logger, fp)
	if err != nil {
		logger.Warnf("netharness: cannot parse capture %s: %s", path, err.Error())
		return []LatencySample{}
	}
	return samples
}
