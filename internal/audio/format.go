package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/audiolibrelab/smrec/internal/errs"
)

// SampleFormat is the closed set of hardware sample representations the
// capture path supports.
type SampleFormat int

const (
	Int8 SampleFormat = iota + 1
	Int16
	Int32
	Float32
)

// WAV format codes written in the fmt chunk.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ParseSampleFormat accepts i8, i16, i32 and f32 (case-insensitive).
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i8", "int8":
		return Int8, nil
	case "i16", "int16":
		return Int16, nil
	case "i32", "int32":
		return Int32, nil
	case "f32", "float32":
		return Float32, nil
	default:
		return 0, errs.Configf("sample format %q is not supported (use i8, i16, i32 or f32)", s)
	}
}

// String returns the string representation of the format
func (f SampleFormat) String() string {
	switch f {
	case Int8:
		return "i8"
	case Int16:
		return "i16"
	case Int32:
		return "i32"
	case Float32:
		return "f32"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// BitDepth returns the sample size in bits
func (f SampleFormat) BitDepth() int {
	switch f {
	case Int8:
		return 8
	case Int16:
		return 16
	case Int32, Float32:
		return 32
	default:
		return 0
	}
}

// IsFloat reports whether samples are IEEE floats
func (f SampleFormat) IsFloat() bool {
	return f == Float32
}

func (f SampleFormat) wavFormat() int {
	if f.IsFloat() {
		return wavFormatFloat
	}
	return wavFormatPCM
}

// StreamFormat is the negotiated hardware input format.
type StreamFormat struct {
	Channels     int          `json:"channels"`
	SampleRate   int          `json:"sample_rate"`
	SampleFormat SampleFormat `json:"sample_format"`
}

func (f StreamFormat) String() string {
	return fmt.Sprintf("%d ch, %d Hz, %s", f.Channels, f.SampleRate, f.SampleFormat)
}

// Sample is any hardware sample representation.
type Sample interface {
	~int8 | ~int16 | ~int32 | ~float32
}

// The converters below map a hardware sample to the integer the WAV encoder
// writes for the same bit depth. They are chosen once per stream.

// Int8ToFile shifts signed 8-bit samples to the unsigned range 8-bit WAV uses.
func Int8ToFile(s int8) int { return int(s) + 128 }

// Int16ToFile keeps the 16-bit value.
func Int16ToFile(s int16) int { return int(s) }

// Int32ToFile keeps the 32-bit value.
func Int32ToFile(s int32) int { return int(s) }

// Float32ToFile carries the IEEE bit pattern through the 32-bit integer path.
func Float32ToFile(s float32) int { return int(int32(math.Float32bits(s))) }
