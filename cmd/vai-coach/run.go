package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/coach/sampler"
	"github.com/vango-go/vai-coach/pkg/coach/voice"
	"github.com/vango-go/vai-coach/pkg/config"
	"github.com/vango-go/vai-coach/pkg/core/providers/gemini"
	"github.com/vango-go/vai-coach/pkg/core/voice/stt"
	"github.com/vango-go/vai-coach/pkg/media"
	"github.com/vango-go/vai-coach/pkg/metrics"
	"github.com/vango-go/vai-coach/pkg/procedures"
	"github.com/vango-go/vai-coach/pkg/ratelimit"
	"github.com/vango-go/vai-coach/pkg/server"
	"github.com/vango-go/vai-coach/pkg/tui"
)

type runOptions struct {
	camera        string
	voice         string
	httpAddr      string
	procedure     string
	confirmFrames int
	headless      bool
	noChime       bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a coaching session on the camera feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err = applyRunFlags(cfg, opts)
			if err != nil {
				return err
			}
			interactive := !opts.headless && isTerminal(os.Stdout) && isTerminal(os.Stdin)
			logger, err := ctx.ensureLogger(interactive, cfg.LogFile)
			if err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), cfg, opts, store, logger, interactive)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.camera, "camera", "", `Camera device, or "file:<image>" to coach against a still image`)
	f.StringVar(&opts.voice, "voice", "", "Voice mode: auto, live, fallback, audio-rest or off")
	f.StringVar(&opts.httpAddr, "http", "", "Serve status and commands on this address")
	f.StringVar(&opts.procedure, "procedure", "", "Load this stored procedure id before starting")
	f.IntVar(&opts.confirmFrames, "confirm-frames", 0, "Agreeing progress reports required per step")
	f.BoolVar(&opts.headless, "headless", false, "Disable the terminal UI and log status changes instead")
	f.BoolVar(&opts.noChime, "no-chime", false, "Do not chime on applied voice commands or completion")

	return cmd
}

func applyRunFlags(cfg config.Config, opts runOptions) (config.Config, error) {
	if opts.camera != "" {
		cfg.Camera = opts.camera
	}
	if opts.voice != "" {
		cfg.Voice = config.VoiceMode(opts.voice)
	}
	if opts.httpAddr != "" {
		cfg.HTTPAddr = opts.httpAddr
	}
	if opts.confirmFrames > 0 {
		cfg.ConfirmFrames = opts.confirmFrames
	}
	if opts.noChime {
		cfg.Chime = false
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func runSession(ctx context.Context, cfg config.Config, opts runOptions, store *procedures.Store, logger *zap.Logger, interactive bool) error {
	m := metrics.New("")

	client, err := newGeminiClient(ctx, cfg, logger, gemini.WithObserver(m.ObserveModel))
	if err != nil {
		return err
	}

	src, err := media.Open(ctx, cfg.Camera, media.CameraConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer src.Close()

	smp := sampler.New(src, sampler.WithMaxWidth(cfg.CaptureWidth), sampler.WithQuality(cfg.JPEGQuality))

	c := coach.New(client, smp,
		coach.WithLogger(logger),
		coach.WithInterval(cfg.CaptureInterval),
		coach.WithSettleDelay(cfg.SettleDelay),
		coach.WithMaxBackoff(cfg.MaxBackoff),
		coach.WithConfirmFrames(cfg.ConfirmFrames),
		coach.WithRecorder(m),
		coach.WithOnComplete(saveDrafted(store, cfg.Account, logger)),
	)

	if err := restoreProcedure(ctx, c, store, cfg.Account, opts.procedure); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := c.Run(gctx)
		if err != nil && interactive {
			// The projection already shows the failure; keep the UI up.
			logger.Error("capture loop ended", zap.Error(err))
			return nil
		}
		return err
	})

	var ack func()
	if cfg.Chime {
		chime, err := media.NewChime()
		if err != nil {
			logger.Warn("audio output unavailable, chime disabled", zap.Error(err))
		} else {
			defer chime.Close()
			ack = chime.Play
			g.Go(func() error {
				chimeOnComplete(gctx, c, ack)
				return nil
			})
		}
	}

	if cfg.Voice != config.VoiceOff {
		mic, err := media.OpenMicrophone(logger)
		if err != nil {
			logger.Warn("microphone unavailable, voice disabled", zap.Error(err))
			c.SetVoice(coach.VoiceInfo{Transport: string(voice.KindNone)})
		} else {
			defer mic.Close()
			ctrl := voice.NewController(c, buildTransports(cfg, mic, client, c.VoiceContext, logger),
				voiceOptions(m, logger, ack)...)
			g.Go(func() error {
				if err := ctrl.Run(gctx); errors.Is(err, voice.ErrNoTransport) {
					logger.Warn("all voice transports exhausted, voice muted")
				} else if err != nil {
					return err
				}
				return nil
			})
		}
	}

	if cfg.HTTPAddr != "" {
		srv := server.New(server.Config{
			Addr:                cfg.HTTPAddr,
			Account:             cfg.Account,
			ReadHeaderTimeout:   cfg.ReadHeaderTimeout,
			ShutdownGracePeriod: cfg.ShutdownGracePeriod,
		}, c, store, m, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	uiCtx, cancelUI := context.WithCancel(gctx)
	defer cancelUI()
	g.Go(func() error {
		defer cancelUI()
		if interactive {
			return errQuit(tui.Run(uiCtx, c))
		}
		logStatus(uiCtx, c, logger)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errUserQuit) {
		return nil
	}
	return err
}

var errUserQuit = errors.New("quit")

// errQuit turns a clean UI exit into an error so the group shuts the other
// goroutines down.
func errQuit(err error) error {
	if err != nil {
		return err
	}
	return errUserQuit
}

func saveDrafted(store *procedures.Store, account string, logger *zap.Logger) func(procedures.Procedure) {
	return func(p procedures.Procedure) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		saved, err := store.Save(ctx, account, p)
		if err != nil {
			logger.Error("save drafted procedure", zap.Error(err))
			return
		}
		logger.Info("drafted procedure saved", zap.String("id", saved.ID), zap.String("title", saved.Title))
	}
}

// restoreProcedure loads id if given, otherwise the stored current procedure.
func restoreProcedure(ctx context.Context, c *coach.Coach, store *procedures.Store, account, id string) error {
	var (
		p   procedures.Procedure
		ok  bool
		err error
	)
	switch {
	case id == procedures.Barista().ID:
		p, ok = procedures.Barista(), true
	case id != "":
		p, err = store.Get(ctx, account, id)
		if err != nil {
			return fmt.Errorf("load procedure %s: %w", id, err)
		}
		ok = true
	default:
		p, ok, err = store.Current(ctx)
		if err != nil {
			return fmt.Errorf("load current procedure: %w", err)
		}
	}
	if !ok {
		return nil
	}
	return c.LoadProcedure(p)
}

// voiceModel is what the transports need from the model client.
type voiceModel interface {
	voice.TextModel
	voice.AudioModel
}

// buildTransports orders the cascade for the configured voice mode. Auto
// tries every transport in order; the named modes pin one.
func buildTransports(cfg config.Config, mic voice.AudioSource, model voiceModel, voiceCtx func() (coach.Mode, bool), logger *zap.Logger) []voice.Transport {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:           cfg.ClassifyRPS,
		Burst:         cfg.ClassifyBurst,
		MaxConcurrent: 1,
	})

	live := func() voice.Transport {
		return voice.NewLiveTransport(voice.LiveConfig{
			URL:    cfg.LiveURL,
			APIKey: cfg.GeminiAPIKey,
			Models: cfg.LiveModels,
			Logger: logger,
		}, mic)
	}
	fallback := func() voice.Transport {
		var provider stt.Provider
		if cfg.CartesiaAPIKey != "" {
			provider = stt.NewCartesia(cfg.CartesiaAPIKey, stt.WithLogger(logger))
		}
		return voice.NewTranscriptionTransport(voice.TranscriptionConfig{
			Limiter: limiter,
			Logger:  logger,
		}, provider, mic, model, voiceCtx)
	}
	clip := func() voice.Transport {
		return voice.NewClipTransport(voice.ClipConfig{
			SampleRate: media.MicSampleRate,
			Limiter:    limiter,
			Logger:     logger,
		}, mic, model)
	}

	switch cfg.Voice {
	case config.VoiceLive:
		return []voice.Transport{live()}
	case config.VoiceFallback:
		return []voice.Transport{fallback()}
	case config.VoiceAudioREST:
		return []voice.Transport{clip()}
	case config.VoiceOff:
		return nil
	}
	return []voice.Transport{live(), fallback(), clip()}
}

func voiceOptions(m *metrics.Metrics, logger *zap.Logger, ack func()) []voice.ControllerOption {
	opts := []voice.ControllerOption{
		voice.WithControllerLogger(logger),
		voice.WithVoiceRecorder(m),
	}
	if ack != nil {
		opts = append(opts, voice.WithAcknowledge(ack))
	}
	return opts
}

// chimeOnComplete plays the chime each time the session reaches complete.
func chimeOnComplete(ctx context.Context, c *coach.Coach, play func()) {
	feed, cancel := c.Subscribe()
	defer cancel()

	last := coach.Mode("")
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-feed:
			if !ok {
				return
			}
			if p.Mode == coach.ModeComplete && last != "" && last != coach.ModeComplete {
				play()
			}
			last = p.Mode
		}
	}
}

// logStatus is the headless front end: it logs each status change.
func logStatus(ctx context.Context, c *coach.Coach, logger *zap.Logger) {
	feed, cancel := c.Subscribe()
	defer cancel()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-feed:
			if !ok {
				return
			}
			line := p.Badge + " " + p.Status
			if line == last {
				continue
			}
			last = line
			if p.StatusIsError {
				logger.Warn("status", zap.String("badge", p.Badge), zap.String("status", p.Status))
			} else {
				logger.Info("status", zap.String("badge", p.Badge), zap.String("status", p.Status), zap.String("mode", string(p.Mode)))
			}
		}
	}
}
