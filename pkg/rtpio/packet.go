// Package rtpio provides the RTP wire format and outbound pacing for the
// bridge's single telephony-facing UDP socket: building and parsing
// packets with pion/rtp, and a paced sender that emits at most one packet
// every 20ms per session regardless of how bursty the audio arriving from
// the dialog client is, and none while the session's output buffer is empty.
package rtpio

import "github.com/pion/rtp"

// BuildPacket assembles one outbound RTP packet. Version is always 2,
// padding/extension/CSRC count are always zero — the bridge never
// negotiates RTP header extensions.
func BuildPacket(payloadType uint8, seq uint16, timestamp, ssrc uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version: 2,
			PayloadType: payloadType,
			SequenceNumber: seq,
			Timestamp: timestamp,
			SSRC: ssrc,
		},
		Payload: payload,
	}
}

// ParsePacket unmarshals one inbound RTP packet from its wire bytes.
func ParsePacket(buf []byte) (*rtp.Packet, error) {
	p := &rtp.Packet{}
	if err := p.Unmarshal(buf); err != nil {
		return nil, err
	}
	return p, nil
}
