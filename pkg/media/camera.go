// Package media opens the camera and microphone and plays the acknowledgement
// chime.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FrameSource yields the current camera frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

var ErrCameraClosed = errors.New("media: camera closed")

// CameraConfig configures the ffmpeg capture process.
type CameraConfig struct {
	// Device is the ffmpeg input. Empty picks the platform default.
	Device string
	Width  int // default 1280
	Height int // default 720
	FPS    int // default 5
	FFmpeg string
	Logger *zap.Logger
}

// Camera runs ffmpeg and keeps the most recent decoded frame.
type Camera struct {
	cfg    CameraConfig
	cmd    *exec.Cmd
	cancel context.CancelFunc

	mu     sync.Mutex
	latest *image.RGBA
	err    error
	ready  chan struct{}
	once   sync.Once
	done   chan struct{}
}

// OpenCamera starts capture. The first Frame call blocks until a frame
// arrives.
func OpenCamera(ctx context.Context, cfg CameraConfig) (*Camera, error) {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 5
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	args := ffmpegArgs(runtime.GOOS, cfg)
	cmd := exec.CommandContext(ctx, cfg.FFmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	cfg.Logger.Info("camera started", zap.String("ffmpeg", cfg.FFmpeg), zap.Strings("args", args))

	c := &Camera{
		cfg:    cfg,
		cmd:    cmd,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.read(stdout)
		_ = cmd.Wait()
	}()
	return c, nil
}

// inputArgs selects the capture backend for goos.
func inputArgs(goos, device string) []string {
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{"-f", "avfoundation", "-framerate", "30", "-i", device}
	case "windows":
		if device == "" {
			device = "video=Integrated Camera"
		}
		return []string{"-f", "dshow", "-i", device}
	default:
		if device == "" {
			device = "/dev/video0"
		}
		return []string{"-f", "v4l2", "-i", device}
	}
}

func ffmpegArgs(goos string, cfg CameraConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(goos, cfg.Device)...)
	args = append(args,
		"-vf", "fps="+strconv.Itoa(cfg.FPS)+",scale="+strconv.Itoa(cfg.Width)+":"+strconv.Itoa(cfg.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)
	return args
}

// read keeps latest current until the stream stops, then records why.
func (c *Camera) read(r io.Reader) {
	err := readFrames(r, c.cfg.Width, c.cfg.Height, func(img *image.RGBA) {
		c.mu.Lock()
		c.latest = img
		c.mu.Unlock()
		c.once.Do(func() { close(c.ready) })
	})
	if err == nil {
		err = ErrCameraClosed
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.ready) })
	c.cfg.Logger.Warn("camera stopped", zap.Error(err))
}

// readFrames decodes back-to-back RGBA frames until r ends. A clean end of
// stream returns nil.
func readFrames(r io.Reader, width, height int, fn func(*image.RGBA)) error {
	size := width * height * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		if _, err := io.ReadFull(r, img.Pix[:size]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		fn(img)
	}
}

// Frame returns the latest frame. Once capture has stopped it returns the
// stop error instead of the last frame seen.
func (c *Camera) Frame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ready:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.latest, nil
}

// Close stops ffmpeg and waits for the reader.
func (c *Camera) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// StillSource serves one image file as every frame. It stands in for a
// camera in demos and tests.
type StillSource struct {
	path string
}

func NewStillSource(path string) *StillSource {
	return &StillSource{path: path}
}

// Frame decodes the file on every call so edits show up between cycles.
func (s *StillSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DecodeFile(s.path)
}

func (s *StillSource) Close() error { return nil }

// Open picks a frame source from a camera spec: "file:<path>" serves a still
// image, anything else is an ffmpeg device.
func Open(ctx context.Context, spec string, cfg CameraConfig) (FrameSource, error) {
	if path, ok := strings.CutPrefix(spec, "file:"); ok {
		if _, err := DecodeFile(path); err != nil {
			return nil, err
		}
		return NewStillSource(path), nil
	}
	cfg.Device = spec
	return OpenCamera(ctx, cfg)
}
