package transcode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// AudioData represents decoded audio data
type AudioData struct {
	PCM        []float64     `json:"-"` // Raw mono PCM data
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	Path       string        `json:"path,omitempty"`
}

// Seconds returns the recording duration in seconds
func (a *AudioData) Seconds() float64 {
	return a.Duration.Seconds()
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"`
	TargetChannels   int           `json:"target_channels"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	FFprobePath      string        `json:"ffprobe_path"`
	Timeout          time.Duration `json:"timeout"`
}

// DefaultDecoderConfig returns default decoder configuration.
// Recordings are downmixed to mono; segmentation and spectrogram
// extraction operate on a single channel.
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 0, // keep source rate
		TargetChannels:   1,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		Timeout:          60 * time.Second,
	}
}

// Decoder handles audio decoding using FFmpeg
type Decoder struct {
	config *DecoderConfig
}

// AudioMetadata holds detected audio properties from FFprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// Probe inspects an audio file without decoding it
func (d *Decoder) Probe(ctx context.Context, filename string) (*AudioMetadata, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, errs.Wrap(errs.CodeDecode, "audio file not accessible", err).
			WithField("path", filename)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		filename,
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	output, err := exec.CommandContext(probeCtx, d.config.FFprobePath, args...).Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, errs.Wrap(errs.CodeDecode,
				fmt.Sprintf("ffprobe failed: %s", strings.TrimSpace(string(exitError.Stderr))), err).
				WithField("path", filename)
		}
		return nil, errs.Wrap(errs.CodeDecode, "ffprobe failed", err).WithField("path", filename)
	}

	return d.parseFFprobeOutput(output, filename)
}

// DecodeFile decodes an audio file and returns mono PCM data
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	logger.Debug("Starting audio file decode")

	metadata, err := d.Probe(ctx, filename)
	if err != nil {
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	targetRate := d.config.TargetSampleRate
	if targetRate <= 0 {
		targetRate = metadata.SampleRate
	}

	args := []string{
		"-v", "error",
		"-i", filename,
		"-f", "f64le",
		"-ac", strconv.Itoa(d.config.TargetChannels),
		"-ar", strconv.Itoa(targetRate),
		"pipe:1",
	}

	decodeCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	output, err := exec.CommandContext(decodeCtx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			logger.Error(err, "FFmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
			return nil, errs.Wrap(errs.CodeDecode,
				fmt.Sprintf("ffmpeg decode failed: %s", strings.TrimSpace(string(exitError.Stderr))), err).
				WithField("path", filename)
		}
		return nil, errs.Wrap(errs.CodeDecode, "ffmpeg decode failed", err).WithField("path", filename)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, errs.New(errs.CodeDecode, "no audio samples decoded").
			WithField("path", filename)
	}

	samplesPerChannel := len(samples) / d.config.TargetChannels
	duration := time.Duration(samplesPerChannel) * time.Second / time.Duration(targetRate)

	logger.Debug("Decode completed", logging.Fields{
		"samples":     len(samples),
		"sample_rate": targetRate,
		"duration":    duration.Seconds(),
	})

	return &AudioData{
		PCM:        samples,
		SampleRate: targetRate,
		Channels:   d.config.TargetChannels,
		Duration:   duration,
		Path:       filename,
	}, nil
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata
func (d *Decoder) parseFFprobeOutput(jsonData []byte, filename string) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, errs.Wrap(errs.CodeDecode, "failed to parse ffprobe output", err).
			WithField("path", filename)
	}

	if len(probe.Streams) == 0 {
		return nil, errs.New(errs.CodeDecode, "no audio streams found").
			WithField("path", filename)
	}

	stream := probe.Streams[0]
	if stream.CodecType != "audio" {
		return nil, errs.Newf(errs.CodeDecode, "stream is not audio type: %s", stream.CodecType).
			WithField("path", filename)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil || sampleRate <= 0 {
		return nil, errs.Newf(errs.CodeDecode, "invalid sample rate: %q", stream.SampleRate).
			WithField("path", filename)
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = 0
	}

	if stream.Channels <= 0 || stream.Channels > 8 {
		return nil, errs.Newf(errs.CodeDecode, "invalid channel count: %d", stream.Channels).
			WithField("path", filename)
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
	}, nil
}

// bytesToFloat64 converts raw f64le bytes to []float64
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		data = data[:len(data)-(len(data)%8)]
	}

	if len(data) == 0 {
		return nil
	}

	sampleCount := len(data) / 8
	samples := make([]float64, sampleCount)

	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}
