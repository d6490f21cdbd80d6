// Package main provides the audiofeed command line player.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/app/loaders"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/app/player"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/config"
	"github.com/osa030/audiofeed/internal/infra/device"
	"github.com/osa030/audiofeed/internal/infra/logger"
	"github.com/osa030/audiofeed/internal/infra/metrics"
)

var (
	app        = kingpin.New("audiofeed", "Streams audio files to the sound card")
	configPath = app.Flag("config", "Path to config file (defaults only when empty)").Envar("AUDIOFEED_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	playCmd        = app.Command("play", "Play audio files one after another")
	playType       = playCmd.Flag("type", "Track type to play on").Default("song").Enum("voice", "song")
	playPositionMs = playCmd.Flag("position-ms", "Start position of the first file").Default("0").Int64()
	playFiles      = playCmd.Arg("files", "WAV or MP3 files").Required().ExistingFiles()

	pcmCmd      = app.Command("play-pcm", "Play raw s16le PCM as a video soundtrack, fed packet by packet")
	pcmRate     = pcmCmd.Flag("rate", "Sample rate").Default("48000").Int()
	pcmChannels = pcmCmd.Flag("channels", "Channel count").Default("2").Int()
	pcmPacketMs = pcmCmd.Flag("packet-ms", "Duration of one packet").Default("20").Int()
	pcmFile     = pcmCmd.Arg("file", "Raw PCM file").Required().ExistingFile()

	listCodecsCmd = app.Command("list-codecs", "List video soundtrack codecs and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listCodecsCmd.FullCommand() {
		printCodecs()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, command); err != nil {
		zlog.Error().Msgf("audiofeed: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run executes the selected command. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config, command string) error {
	dev, err := device.New(cfg.Device.Backend, cfg.Device.Slots, cfg.Device.Settings)
	if err != nil {
		return errors.Wrap(err, "failed to create output device")
	}

	m := metrics.New()
	p := player.New(dev, playerConfig(cfg, m))
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- p.Run(ctx)
	}()

	if cfg.Metrics.Addr != "" {
		server := startMetricsServer(cfg.Metrics.Addr, m)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				zlog.Error().Msgf("Failed to shutdown metrics server: %v", err)
			}
		}()
	}

	switch command {
	case playCmd.FullCommand():
		t, err := audio.ParseType(*playType)
		if err != nil {
			return err
		}
		err = playFilesInOrder(ctx, p, t, *playFiles, *playPositionMs)
		cancel()
		return errors.CombineErrors(err, <-runErrCh)
	case pcmCmd.FullCommand():
		err := playPCM(ctx, p, *pcmFile, *pcmRate, *pcmChannels, *pcmPacketMs)
		cancel()
		return errors.CombineErrors(err, <-runErrCh)
	}
	return errors.Newf("unknown command %q", command)
}

func playerConfig(cfg *config.Config, m *metrics.Metrics) player.Config {
	var volume [audio.TypeCount]float64
	volume[audio.TypeVoice] = *cfg.Volume.Voice
	volume[audio.TypeSong] = *cfg.Volume.Song
	volume[audio.TypeVideo] = *cfg.Volume.Video

	return player.Config{
		PollInterval: cfg.PollInterval(),
		Mixer: mixer.Config{
			Volume:      volume,
			EventBuffer: cfg.Playback.EventBuffer,
		},
		Loaders: loaders.Config{
			BufferSize:  cfg.BufferSize(),
			EventBuffer: cfg.Playback.EventBuffer,
			Metrics:     m,
		},
	}
}

// startMetricsServer serves /metrics with h2c (HTTP/2 cleartext) support.
func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info().Msgf("Starting metrics server: addr=%s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Msgf("Metrics server error: %v", err)
		}
	}()
	return server
}

func playFilesInOrder(ctx context.Context, p *player.Player, t audio.Type, files []string, positionMs int64) error {
	for i, path := range files {
		if ctx.Err() != nil {
			return nil
		}
		id := audio.NewMsgID(t, uuid.NewString(), 0)
		if i > 0 {
			positionMs = 0
		}
		zlog.Info().Msgf("Playing %s: id=%s", path, id)
		if err := p.Play(id, audio.Media{Source: audio.Source{Path: path}}, positionMs); err != nil {
			return errors.Wrapf(err, "failed to play %s", path)
		}
		state, err := waitDone(ctx, p, id)
		if err != nil {
			return err
		}
		zlog.Info().Msgf("Playback of %s ended: state=%s", path, state)
	}
	return nil
}

// playPCM plays a raw PCM file through the video soundtrack path: a
// producer goroutine cuts it into packets and feeds them like a demuxer.
func playPCM(ctx context.Context, p *player.Player, path string, rate, channels, packetMs int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read pcm file")
	}
	frameSize := channels * 2
	if channels < 1 || channels > 2 || len(data) < frameSize {
		return errors.Newf("no %d channel pcm in %s", channels, path)
	}

	id := audio.NewMsgID(audio.TypeVideo, uuid.NewString(), 1)
	sound := &audio.VideoSound{
		Codec:     loader.CodecPCMS16LE,
		Frequency: rate,
		Channels:  channels,
		Length:    int64(len(data) / frameSize),
	}
	if err := p.Play(id, audio.Media{Video: sound}, 0); err != nil {
		return errors.Wrap(err, "failed to play pcm")
	}

	go feedPackets(ctx, p, id, data, frameSize*max(rate*packetMs/1000, 1), time.Duration(packetMs)*time.Millisecond)

	state, err := waitDone(ctx, p, id)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("Playback ended: id=%s state=%s", id, state)
	return nil
}

// feedPackets paces packets at half their duration so decoding stays ahead of playback.
func feedPackets(ctx context.Context, p *player.Player, id audio.MsgID, data []byte, packetSize int, packetDuration time.Duration) {
	ticker := time.NewTicker(packetDuration / 2)
	defer ticker.Stop()

	for offset := 0; offset < len(data); offset += packetSize {
		end := min(offset+packetSize, len(data))
		p.FeedVideo(id, audio.NewPacket(data[offset:end], nil))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	p.FeedVideo(id, audio.EndOfStream())
	p.ForceToBufferVideo(id)
}

// waitDone waits until id reaches a terminal state.
func waitDone(ctx context.Context, p *player.Player, id audio.MsgID) (audio.State, error) {
	events := p.Events()
	for {
		select {
		case <-ctx.Done():
			return audio.StateStopped, nil
		case e, ok := <-events:
			if !ok {
				return audio.StateStopped, io.ErrUnexpectedEOF
			}
			if e.ID != id {
				continue
			}
			if e.Type == mixer.EventError {
				return e.State, errors.Wrapf(e.Err, "playback of %s failed", id)
			}
			zlog.Debug().Msgf("State changed: id=%s state=%s", id, e.State)
			switch e.State {
			case audio.StateStoppedAtStart, audio.StateStoppedAtError:
				return e.State, errors.Newf("playback of %s ended: state=%s", id, e.State)
			case audio.StateStopped, audio.StateFinished:
				return e.State, nil
			}
		}
	}
}

// printCodecs prints available video soundtrack codecs.
func printCodecs() {
	fmt.Println("Available Codecs:")
	for _, name := range loader.Codecs() {
		fmt.Printf("  %s\n", name)
	}
}
