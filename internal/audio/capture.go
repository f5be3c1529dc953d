package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

const (
	// captureSlots is the number of device periods the capture ring can hold
	// (about 4 seconds of 32ms periods).
	captureSlots = 128

	// maxPeriodSamples bounds a single device period to keep the callback
	// allocation free.
	maxPeriodSamples = 4096
)

// period is one device callback worth of samples stored in the ring.
type period struct {
	samples [maxPeriodSamples]int16
	n       int
}

// captureRing is a single-producer single-consumer ring between the malgo
// callback thread and the framing goroutine.
type captureRing struct {
	slots   [captureSlots]period
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

func (rb *captureRing) push(samples []int16) bool {
	head, tail := rb.head.Load(), rb.tail.Load()
	if head-tail >= captureSlots {
		rb.dropped.Add(1)
		return false
	}
	slot := &rb.slots[head%captureSlots]
	slot.n = copy(slot.samples[:], samples)
	rb.head.Add(1)
	return true
}

func (rb *captureRing) pop(dst []int16) ([]int16, bool) {
	head, tail := rb.head.Load(), rb.tail.Load()
	if head == tail {
		return dst, false
	}
	slot := &rb.slots[tail%captureSlots]
	dst = append(dst, slot.samples[:slot.n]...)
	rb.tail.Add(1)
	return dst, true
}

// Capturer reads the default microphone and delivers fixed-size mono frames.
// The device callback only copies into a lock-free ring; framing and the
// onFrame callback run on a dedicated goroutine.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
	frameSize  int
	onFrame    func(Frame)
	log        *zap.SugaredLogger

	running  atomic.Bool
	ring     captureRing
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCapturer prepares a capture context. frameMs is the duration of each
// delivered frame (20ms gives the 50 frames per second the turn detector
// thresholds are tuned for).
func NewCapturer(sampleRate, frameMs int, onFrame func(Frame), log *zap.SugaredLogger) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		frameSize:  sampleRate * frameMs / 1000,
		onFrame:    onFrame,
		log:        log,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start opens the capture device and begins delivering frames.
func (c *Capturer) Start() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = c.sampleRate
	cfg.PeriodSizeInMilliseconds = 32

	var scratch [maxPeriodSamples]int16
	onRecv := func(_, input []byte, _ uint32) {
		if !c.running.Load() {
			return
		}
		n := DecodeS16LE(scratch[:], input)
		if !c.ring.push(scratch[:n]) {
			if d := c.ring.dropped.Load(); d%100 == 0 {
				c.log.Warnw("⚠️  Capture ring full", "dropped", d)
			}
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device
	// miniaudio converts to the requested rate when the hardware differs.
	c.log.Infow("🎙️ Capture device ready", "sample_rate", c.sampleRate, "frame_samples", c.frameSize)

	c.running.Store(true)
	c.wg.Add(1)
	go c.frameLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// frameLoop drains the ring and cuts the stream into frameSize frames.
func (c *Capturer) frameLoop() {
	defer c.wg.Done()

	pending := make([]int16, 0, c.frameSize*4)
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		var ok bool
		pending, ok = c.ring.pop(pending)
		if !ok {
			select {
			case <-c.stopChan:
				return
			case <-time.After(500 * time.Microsecond):
			}
			continue
		}

		for len(pending) >= c.frameSize {
			samples := make([]int16, c.frameSize)
			copy(samples, pending[:c.frameSize])
			pending = append(pending[:0], pending[c.frameSize:]...)
			if c.onFrame != nil {
				c.onFrame(NewFrame(samples, int(c.sampleRate)))
			}
		}
	}
}

// Stop halts capture and waits for the framing goroutine.
func (c *Capturer) Stop() {
	c.running.Store(false)
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Close stops capture and releases the audio context.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
