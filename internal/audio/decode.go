package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// ErrUnsupportedFormat is returned for media this backend cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// resampleQuality trades CPU for fidelity; 4 is beep's recommended default.
const resampleQuality = 4

// Decode converts encoded audio into signed 16-bit little-endian PCM at
// the given rate and channel count. "audio/pcm" input is taken to already
// be in that format. The PCM duration is returned alongside.
func Decode(mimeType string, data []byte, sampleRate, channels int) ([]byte, time.Duration, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("audio data is empty")
	}

	kind := normalizeMime(mimeType)
	if kind == "" {
		kind = sniffMime(data)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch kind {
	case "audio/pcm":
		pcm := alignPCM(data, channels)
		return pcm, pcmDuration(len(pcm), sampleRate, channels), nil
	case "audio/mpeg":
		stream, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case "audio/wav":
		stream, format, err = wav.Decode(bytes.NewReader(data))
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	defer stream.Close() //nolint:errcheck

	var src beep.Streamer = stream
	target := beep.SampleRate(sampleRate)
	if format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, stream)
	}

	out := beep.Format{SampleRate: target, NumChannels: channels, Precision: 2}
	pcm := encodePCM(src, out, stream.Len())
	if err := stream.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return pcm, pcmDuration(len(pcm), sampleRate, channels), nil
}

func encodePCM(s beep.Streamer, f beep.Format, hint int) []byte {
	var out bytes.Buffer
	if hint > 0 {
		out.Grow(hint * f.Width())
	}
	samples := make([][2]float64, 512)
	frame := make([]byte, f.Width())
	for {
		n, ok := s.Stream(samples)
		for i := 0; i < n; i++ {
			f.EncodeSigned(frame, samples[i])
			out.Write(frame)
		}
		if !ok {
			break
		}
	}
	return out.Bytes()
}

func alignPCM(data []byte, channels int) []byte {
	bpf := bytesPerFrame(channels)
	return data[:len(data)-len(data)%bpf]
}

func normalizeMime(m string) string {
	if m == "" {
		return ""
	}
	if base, _, err := mime.ParseMediaType(m); err == nil {
		m = base
	}
	switch strings.ToLower(m) {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return "audio/mpeg"
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return "audio/wav"
	case "audio/pcm", "audio/x-pcm", "audio/s16le":
		return "audio/pcm"
	case "application/octet-stream", "binary/octet-stream":
		return ""
	default:
		return strings.ToLower(m)
	}
}

// sniffMime recognises wav and mp3 from their leading bytes.
func sniffMime(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "audio/wav"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "audio/mpeg"
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
