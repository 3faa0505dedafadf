package media

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

const (
	MicSampleRate = 16000
	micChannels   = 1
	micPeriodMS   = 20
	micQueue      = 64
)

// Microphone captures 16 kHz mono PCM16LE. Chunks are dropped, not queued,
// when the reader falls behind.
type Microphone struct {
	logger *zap.Logger
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	closed bool
	chunks chan []byte
	drops  int
}

func OpenMicrophone(logger *zap.Logger) (*Microphone, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	m := &Microphone{
		logger: logger,
		ctx:    mctx,
		chunks: make(chan []byte, micQueue),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = micChannels
	deviceConfig.SampleRate = MicSampleRate
	deviceConfig.PeriodSizeInMilliseconds = micPeriodMS

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.push(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	logger.Info("microphone started", zap.Int("sample_rate", MicSampleRate))
	return m, nil
}

// push copies input because malgo reuses its buffer.
func (m *Microphone) push(input []byte) {
	chunk := make([]byte, len(input))
	copy(chunk, input)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.chunks <- chunk:
	default:
		m.drops++
	}
}

func (m *Microphone) Chunks() <-chan []byte { return m.chunks }

func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	drops := m.drops
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	close(m.chunks)

	m.logger.Info("microphone stopped", zap.Int("dropped_chunks", drops))
	return err
}
