package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInputArgs(t *testing.T) {
	assert.Equal(t, []string{"-f", "v4l2", "-i", "/dev/video0"}, inputArgs("linux", ""))
	assert.Equal(t, []string{"-f", "v4l2", "-i", "/dev/video2"}, inputArgs("linux", "/dev/video2"))
	assert.Equal(t, []string{"-f", "avfoundation", "-framerate", "30", "-i", "0"}, inputArgs("darwin", ""))
	assert.Equal(t, []string{"-f", "dshow", "-i", "video=USB Cam"}, inputArgs("windows", "video=USB Cam"))
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("linux", CameraConfig{Width: 640, Height: 480, FPS: 2})
	assert.Contains(t, args, "fps=2,scale=640:480")
	assert.Equal(t, "pipe:1", args[len(args)-1])
	assert.Contains(t, args, "rawvideo")
	assert.Contains(t, args, "rgba")
}

func TestReadFrames(t *testing.T) {
	const w, h = 2, 2
	frame := bytes.Repeat([]byte{10, 20, 30, 255}, w*h)
	stream := append(append([]byte{}, frame...), frame...)

	var got []*image.RGBA
	err := readFrames(bytes.NewReader(stream), w, h, func(img *image.RGBA) { got = append(got, img) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, got[1].RGBAAt(1, 1))

	err = readFrames(bytes.NewReader(stream[:len(frame)+3]), w, h, func(*image.RGBA) {})
	require.Error(t, err, "a truncated frame is an error")
}

func testCamera(w, h int) *Camera {
	return &Camera{
		cfg:   CameraConfig{Width: w, Height: h, Logger: zap.NewNop()},
		ready: make(chan struct{}),
	}
}

func TestCamera_StopsServingFramesAfterStreamBreaks(t *testing.T) {
	const w, h = 2, 2
	frame := bytes.Repeat([]byte{1, 2, 3, 255}, w*h)
	c := testCamera(w, h)

	c.read(bytes.NewReader(append(append([]byte{}, frame...), frame[:5]...)))

	img, err := c.Frame(context.Background())
	assert.Nil(t, img)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCamera_CleanEndReportsClosed(t *testing.T) {
	const w, h = 2, 2
	c := testCamera(w, h)

	c.read(bytes.NewReader(bytes.Repeat([]byte{9, 9, 9, 255}, w*h)))

	_, err := c.Frame(context.Background())
	require.ErrorIs(t, err, ErrCameraClosed)
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestOpen_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.png")
	writePNG(t, path)

	src, err := Open(context.Background(), "file:"+path, CameraConfig{})
	require.NoError(t, err)
	defer src.Close()

	img, err := src.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Frame(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "nope.jpg"), CameraConfig{})
	require.Error(t, err)
}

func TestTone(t *testing.T) {
	pcm := Tone(880, 100*time.Millisecond, 24000)
	require.Len(t, pcm, 2400*2)

	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, 1000)
	assert.LessOrEqual(t, peak, 32767*3/10+1)
}
