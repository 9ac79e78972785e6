package narration

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FrameType identifies a narration frame.
type FrameType string

const (
	FrameAudio FrameType = "audio"
	FrameText  FrameType = "text"
	FrameEnd   FrameType = "end"
)

// maxLineSize bounds a single frame; base64 audio makes lines long.
const maxLineSize = 32 << 20

var (
	// ErrUnknownFrame is returned for frames with an unrecognised type.
	ErrUnknownFrame = errors.New("unknown frame type")
	// ErrMalformedFrame is returned for frames missing required fields.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is one line of the narration stream.
type Frame struct {
	Type    FrameType `json:"type"`
	Segment int       `json:"segment,omitempty"`
	Format  string    `json:"format,omitempty"`
	Audio   string    `json:"audio,omitempty"`
	URL     string    `json:"url,omitempty"`
	Text    string    `json:"text,omitempty"`
	Cues    []string  `json:"cues,omitempty"`
}

func (f Frame) validate() error {
	switch f.Type {
	case FrameAudio:
		hasData, hasURL := f.Audio != "", f.URL != ""
		if hasData == hasURL {
			return fmt.Errorf("%w: audio frame needs exactly one of audio or url", ErrMalformedFrame)
		}
	case FrameText:
		if strings.TrimSpace(f.Text) == "" {
			return fmt.Errorf("%w: text frame without text", ErrMalformedFrame)
		}
	case FrameEnd:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
	return nil
}

// LineError locates a bad frame in the stream.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Reader decodes frames from an NDJSON stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader returns a reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Line returns the number of the last line read.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next frame, skipping blank lines. It returns io.EOF at
// the end of the stream. Malformed frames are returned as *LineError and
// reading may continue past them.
func (r *Reader) Next() (Frame, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var f Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return Frame{}, &LineError{Line: r.line, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
		}
		if err := f.validate(); err != nil {
			return Frame{}, &LineError{Line: r.line, Err: err}
		}
		return f, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("failed to read narration stream: %w", err)
	}
	return Frame{}, io.EOF
}
