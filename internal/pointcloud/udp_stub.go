//go:build !pcap
// +build !pcap

package pointcloud

import (
	"context"
	"fmt"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// PacketDecoder mirrors the pcap-tagged build's interface so callers
// compile either way.
type PacketDecoder interface {
	DecodePacket(payload []byte) ([]spatial.Vec3, []layer.RGB, error)
}

// UDPCloudSink mirrors the pcap-tagged build's sink signature.
type UDPCloudSink func(points []spatial.Vec3, colors []layer.RGB)

// DecodeUDP is a stub used when this binary is built without the pcap
// build tag (gopacket/pcap requires cgo and libpcap at build time).
// Rebuild with -tags=pcap to enable live/offline UDP decode.
func DecodeUDP(ctx context.Context, iface, pcapFile string, udpPort int, decoder PacketDecoder, sink UDPCloudSink) error {
	return fmt.Errorf("pointcloud: UDP/pcap decode not enabled: rebuild with -tags=pcap")
}
