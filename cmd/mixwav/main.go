// Command mixwav mixes WAV files into a single output file using the
// mixing core offline: each input is fed through a packet queue and a
// resampling mix edge, exactly as a live stream would be.
//
// Usage:
//
//	mixwav -out mixed.wav a.wav b.wav
//	mixwav -rate 48000 -gains "0,-6" -out mixed.wav music.wav voice.wav
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	mixer "github.com/soundmesh/go-audio-mixer"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

const (
	// blockFrames is the offline "mix period" in output frames.
	blockFrames = 480

	// packetFrames chunks each input into packets, as a live producer
	// would.
	packetFrames = 480

	outputBitDepth = 16
	maxInt16       = 32767.0
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outPath := flag.String("out", "", "Output WAV path (required)")
	outRate := flag.Int("rate", 48000, "Output sample rate in Hz")
	gains := flag.String("gains", "", "Comma-separated per-input gains in dB (default 0)")
	flag.Parse()

	inputs := flag.Args()
	if *outPath == "" || len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s -out mixed.wav [options] input.wav...\n\n", os.Args[0])
		flag.PrintDefaults()
		return fmt.Errorf("missing output path or inputs")
	}

	gainsDb, err := parseGains(*gains, len(inputs))
	if err != nil {
		return err
	}

	sources := make([]*sourceFile, 0, len(inputs))
	for _, path := range inputs {
		src, err := loadWav(path)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	channels := sources[0].format.Channels
	for _, src := range sources[1:] {
		if src.format.Channels != channels {
			return fmt.Errorf("%s has %d channels, want %d (all inputs must match)",
				src.path, src.format.Channels, channels)
		}
	}

	outFormat := mixer.Format{FramesPerSecond: int32(*outRate), Channels: channels}
	if err := outFormat.Validate(); err != nil {
		return err
	}

	mixer.PrecomputeFilters()
	out, err := mix(outFormat, sources, gainsDb)
	if err != nil {
		return err
	}
	return writeWav(*outPath, outFormat, out)
}

type sourceFile struct {
	path    string
	format  mixer.Format
	samples []float32
}

func (s *sourceFile) frames() int64 {
	return int64(len(s.samples)) / int64(s.format.Channels)
}

// mix drives a MixStage over the whole duration of the longest input,
// one block at a time, and returns the interleaved output samples.
func mix(outFormat mixer.Format, sources []*sourceFile, gainsDb []float64) ([]float32, error) {
	clock := mixer.NewMonotonicClock()
	presentation := timeline.NewFunction(0, 0, outFormat.FracFramesPerNs())

	stage, err := mixer.NewMixStage(outFormat, blockFrames, clock, presentation)
	if err != nil {
		return nil, err
	}

	var totalFrames int64
	for i, src := range sources {
		dur := src.format.DurationForFrames(src.frames())
		if frames := outFormat.FramesForDuration(dur); frames > totalFrames {
			totalFrames = frames
		}

		queue := mixer.NewPacketQueue(src.format, clock,
			timeline.NewFunction(0, 0, src.format.FracFramesPerNs()), mixer.UsageMedia)
		if err := pushPackets(queue, src); err != nil {
			return nil, err
		}
		queue.Close()

		edge := stage.AddInput(queue, mixer.ResamplerDefault)
		edge.Bookkeeping().Gain.SetSourceGain(gainsDb[i])
	}

	ch := int64(outFormat.Channels)
	out := make([]float32, 0, totalFrames*ch)
	for off := int64(0); off < totalFrames; off += blockFrames {
		n := blockFrames
		if off+int64(n) > totalFrames {
			n = int(totalFrames - off)
		}
		buf := stage.ReadLock(timeline.FixedFromInt64(off), int64(n))
		if buf == nil {
			out = append(out, make([]float32, int64(n)*ch)...)
		} else {
			out = append(out, buf.Payload()...)
		}
		stage.Trim(timeline.FixedFromInt64(off + int64(n)))
	}
	return out, nil
}

func pushPackets(queue *mixer.PacketQueue, src *sourceFile) error {
	ch := int64(src.format.Channels)
	frames := src.frames()
	for start := int64(0); start < frames; start += packetFrames {
		end := start + packetFrames
		if end > frames {
			end = frames
		}
		payload := src.samples[start*ch : end*ch]
		if err := queue.PushPacket(timeline.FixedFromInt64(start), payload, nil); err != nil {
			return fmt.Errorf("push %s packet at frame %d: %w", src.path, start, err)
		}
	}
	return nil
}

func loadWav(path string) (*sourceFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(float64(v) * scale)
	}
	return &sourceFile{
		path: path,
		format: mixer.Format{
			FramesPerSecond: int32(buf.Format.SampleRate),
			Channels:        int32(buf.Format.NumChannels),
		},
		samples: samples,
	}, nil
}

func writeWav(path string, format mixer.Format, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, int(format.FramesPerSecond), outputBitDepth,
		int(format.Channels), 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		s := math.Round(float64(v) * maxInt16)
		if s > maxInt16 {
			s = maxInt16
		} else if s < -maxInt16-1 {
			s = -maxInt16 - 1
		}
		data[i] = int(s)
	}
	if err := enc.Write(&audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(format.Channels),
			SampleRate:  int(format.FramesPerSecond),
		},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}); err != nil {
		return err
	}
	return enc.Close()
}

func parseGains(s string, n int) ([]float64, error) {
	gains := make([]float64, n)
	if s == "" {
		return gains, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > n {
		return nil, fmt.Errorf("%d gains for %d inputs", len(parts), n)
	}
	for i, p := range parts {
		g, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad gain %q: %w", p, err)
		}
		gains[i] = g
	}
	return gains, nil
}
