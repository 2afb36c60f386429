package relay

import (
	"io"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
)

const frameChunkSize = 32 * 1024

// pump copies one media stream of a device process into the broadcast path.
type pump struct {
	deviceID domain.DeviceID
	kind     string
	stream   io.ReadCloser
}

// StartRelay begins pumping the process's attached media streams to
// subscribers. Streams that were never attached (disabled channels, attach
// failures) are skipped.
func (g *Gateway) StartRelay(deviceID domain.DeviceID, handle ports.ProcessHandle) {
	var pumps []*pump
	if video := handle.Video(); video != nil {
		pumps = append(pumps, &pump{deviceID: deviceID, kind: "video_frame", stream: video})
	}
	if audio := handle.Audio(); audio != nil {
		pumps = append(pumps, &pump{deviceID: deviceID, kind: "audio_frame", stream: audio})
	}
	if len(pumps) == 0 {
		return
	}

	g.pumpsMu.Lock()
	g.pumps[deviceID] = pumps
	g.pumpsMu.Unlock()

	for _, p := range pumps {
		go g.runPump(p)
	}
}

// StopRelay closes the device's media streams, unblocking the pump
// goroutines.
func (g *Gateway) StopRelay(deviceID domain.DeviceID) {
	g.pumpsMu.Lock()
	pumps := g.pumps[deviceID]
	delete(g.pumps, deviceID)
	g.pumpsMu.Unlock()

	for _, p := range pumps {
		p.stream.Close()
	}
}

func (g *Gateway) runPump(p *pump) {
	defer p.stream.Close()

	buf := make([]byte, frameChunkSize)
	for {
		n, err := p.stream.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			g.broadcast(p.deviceID, p.kind, frame)
		}
		if err != nil {
			if err != io.EOF {
				g.logger.Debugw("media stream closed", "device_id", p.deviceID, "kind", p.kind, "error", err)
			}
			return
		}
	}
}
