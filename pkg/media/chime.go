package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const chimeSampleRate = 24000

// Chime plays a short tone when a command lands or a task completes.
type Chime struct {
	ctx  *oto.Context
	tone []byte

	mu     sync.Mutex
	player *oto.Player
}

func NewChime() (*Chime, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   chimeSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Chime{ctx: ctx, tone: Tone(880, 120*time.Millisecond, chimeSampleRate)}, nil
}

// Play starts the chime and returns immediately. A chime still playing is cut
// off.
func (c *Chime) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player != nil {
		_ = c.player.Close()
	}
	c.player = c.ctx.NewPlayer(bytes.NewReader(c.tone))
	c.player.Play()
}

func (c *Chime) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player == nil {
		return nil
	}
	err := c.player.Close()
	c.player = nil
	return err
}

// Tone renders a sine wave with a linear fade-out as mono PCM16LE.
func Tone(freq float64, d time.Duration, sampleRate int) []byte {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		fade := 1 - float64(i)/float64(n)
		v := 0.3 * fade * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
