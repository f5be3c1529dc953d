package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// playbackRingSize holds about 11 seconds at 48kHz, enough for a full reply.
const playbackRingSize = 524288

// playbackRing is a single-producer single-consumer sample ring feeding the
// device callback.
type playbackRing struct {
	samples [playbackRingSize]int16
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (rb *playbackRing) push(samples []int16) int {
	head, tail := rb.head.Load(), rb.tail.Load()
	n := min(len(samples), playbackRingSize-int(head-tail))
	for i := 0; i < n; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}
	rb.head.Add(uint64(n))
	return n
}

func (rb *playbackRing) pop() (int16, bool) {
	head, tail := rb.head.Load(), rb.tail.Load()
	if head == tail {
		return 0, false
	}
	s := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return s, true
}

func (rb *playbackRing) clear() { rb.tail.Store(rb.head.Load()) }

func (rb *playbackRing) empty() bool { return rb.head.Load() == rb.tail.Load() }

// Player writes frames to the default output device. The device runs for the
// lifetime of the player and outputs silence when nothing is queued.
type Player struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	bufferMs   uint32
	log        *zap.SugaredLogger

	mu   sync.Mutex // serializes producers
	ring playbackRing
}

// NewPlayer opens the playback device at sampleRate. bufferMs is the device
// period (0 selects 100ms, which keeps Bluetooth outputs from crackling).
func NewPlayer(sampleRate int, bufferMs uint32, log *zap.SugaredLogger) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	if bufferMs == 0 {
		bufferMs = 100
	}
	p := &Player{ctx: ctx, sampleRate: sampleRate, bufferMs: bufferMs, log: log}
	if err := p.initDevice(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return p, nil
}

func (p *Player) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(p.sampleRate)
	cfg.PeriodSizeInMilliseconds = p.bufferMs

	var scratch [maxPeriodSamples]int16
	onSend := func(output, _ []byte, framecount uint32) {
		total := min(int(framecount), len(output)/2)
		for off := 0; off < total; off += maxPeriodSamples {
			n := min(total-off, maxPeriodSamples)
			for i := range n {
				scratch[i], _ = p.ring.pop()
			}
			EncodeS16LE(output[off*2:], scratch[:n])
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	p.device = device
	p.log.Infow("🔊 Playback device started", "sample_rate", p.sampleRate, "buffer_ms", p.bufferMs)
	return nil
}

// SampleRate returns the device output rate.
func (p *Player) SampleRate() int { return p.sampleRate }

// Enqueue queues a frame for playback without waiting for it to finish.
// Frames at a different rate are resampled first.
func (p *Player) Enqueue(f Frame) {
	if f.SampleRate != p.sampleRate || f.channels() != 1 {
		f = ResampleFrame(f, p.sampleRate)
	}
	p.mu.Lock()
	written := p.ring.push(f.Samples)
	p.mu.Unlock()
	if written < len(f.Samples) {
		p.log.Warnw("⚠️  Playback buffer overflow", "dropped", len(f.Samples)-written)
	}
}

// Interrupt discards any queued audio.
func (p *Player) Interrupt() { p.ring.clear() }

// Close stops the device and releases the audio context.
func (p *Player) Close() {
	if !p.ring.empty() {
		p.log.Debug("Discarding queued playback")
	}
	p.Interrupt()
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
