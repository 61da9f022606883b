//go:build pcap
// +build pcap

package pointcloud

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// PacketDecoder turns one UDP payload into points/colors, the per-
// sensor-protocol piece DecodeUDP delegates to — analogous to the
// reference corpus's Parser.ParsePacket.
type PacketDecoder interface {
	DecodePacket(payload []byte) ([]spatial.Vec3, []layer.RGB, error)
}

// UDPCloudSink receives every decoded packet's points/colors as they
// stream off the wire.
type UDPCloudSink func(points []spatial.Vec3, colors []layer.RGB)

// DecodeUDP reads UDP packets on udpPort from a live interface (iface
// non-empty) or a pcap file (pcapFile non-empty, iface empty), decodes
// each payload via decoder, and hands the result to sink until ctx is
// canceled or the pcap file is exhausted. Directly grounded on the
// reference corpus's ReadPCAPFile: open handle, apply a BPF port
// filter, pull packets off gopacket.NewPacketSource, slice the UDP
// layer's payload, hand it to the protocol decoder.
func DecodeUDP(ctx context.Context, iface, pcapFile string, udpPort int, decoder PacketDecoder, sink UDPCloudSink) error {
	var handle *pcap.Handle
	var err error
	switch {
	case pcapFile != "":
		handle, err = pcap.OpenOffline(pcapFile)
	case iface != "":
		handle, err = pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	default:
		return fmt.Errorf("pointcloud: DecodeUDP needs either iface or pcapFile")
	}
	if err != nil {
		return fmt.Errorf("pointcloud: open capture: %w", err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("pointcloud: set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-source.Packets():
			if !ok || packet == nil {
				return nil
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			points, colors, err := decoder.DecodePacket(udp.Payload)
			if err != nil {
				continue
			}
			sink(points, colors)
		}
	}
}
