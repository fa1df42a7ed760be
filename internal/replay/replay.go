// Package replay feeds UDP game traffic from a pcap capture through a packet
// handler, as if a host adapter had intercepted it.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/metrics"
	"firestige.xyz/packeteater/internal/shim"
)

// DefaultPort is the UDP port of the game servers.
const DefaultPort = 54230

// Config controls a replay.
type Config struct {
	// Port is the game server UDP port. Packets sent to it are client to
	// server; packets sent from it are server to client.
	Port    uint16
	Session core.SessionInfo
	Origin  core.Origin
	// Speed paces frames by their capture timestamps divided by Speed.
	// Zero replays as fast as possible.
	Speed float64
}

// Stats summarizes a replay.
type Stats struct {
	Frames    uint64 // frames read
	Matched   uint64 // UDP frames on the game port
	Forwarded uint64 // payloads handed to the handler
	Skipped   uint64 // frames not matched or not decodable
}

// Run reads a pcap stream from r and forwards every UDP payload on the game
// port to h. It stops at end of input or when ctx is done.
func Run(ctx context.Context, r io.Reader, h shim.Handler, cfg Config) (Stats, error) {
	var stats Stats

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Session.Version == "" {
		cfg.Session.Version = core.UnknownVersion
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("open pcap: %w", err)
	}

	var vm *bpf.VM
	if pr.LinkType() == layers.LinkTypeEthernet {
		if vm, err = newPortVM(cfg.Port); err != nil {
			return stats, err
		}
	}

	var first, firstWall time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read frame %d: %w", stats.Frames+1, err)
		}
		stats.Frames++

		if vm != nil {
			if n, err := vm.Run(data); err != nil || n == 0 {
				stats.Skipped++
				metrics.ReplayFramesTotal.WithLabelValues("filtered").Inc()
				continue
			}
		}

		payload, dir, ok := gamePayload(data, pr.LinkType(), cfg.Port)
		if !ok {
			stats.Skipped++
			metrics.ReplayFramesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		stats.Matched++

		if cfg.Speed > 0 {
			if first.IsZero() {
				first, firstWall = ci.Timestamp, time.Now()
			}
			due := firstWall.Add(time.Duration(float64(ci.Timestamp.Sub(first)) / cfg.Speed))
			if err := sleepUntil(ctx, due); err != nil {
				return stats, err
			}
		}

		if len(payload) == 0 {
			metrics.ReplayFramesTotal.WithLabelValues("empty").Inc()
			continue
		}
		h.HandlePacketData(cfg.Session, payload, dir, cfg.Origin)
		stats.Forwarded++
		metrics.ReplayFramesTotal.WithLabelValues("forwarded").Inc()
	}

	slog.Info("replay finished",
		"frames", stats.Frames,
		"matched", stats.Matched,
		"forwarded", stats.Forwarded,
		"skipped", stats.Skipped)
	return stats, nil
}

// gamePayload decodes a frame and returns its UDP payload when one side of
// the datagram is the game port.
func gamePayload(data []byte, link layers.LinkType, port uint16) ([]byte, core.Direction, bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, 0, false
	}
	udp := udpLayer.(*layers.UDP)

	switch {
	case uint16(udp.DstPort) == port:
		return copyBytes(udp.Payload), core.ClientToServer, true
	case uint16(udp.SrcPort) == port:
		return copyBytes(udp.Payload), core.ServerToClient, true
	default:
		return nil, 0, false
	}
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
