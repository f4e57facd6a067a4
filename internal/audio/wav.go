package audio

// wav.go, a minimal RIFF/WAVE codec. Decodes PCM8, PCM16 and IEEE-float32
// payloads into interleaved int16 samples; encodes back to PCM 16-bit
// little-endian with channel count and sample rate preserved.

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Clip holds one decoded audio stream.
type Clip struct {
	SampleRate int
	Channels   int
	Data       []int16 // interleaved
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Data) / c.Channels
	return float64(frames) / float64(c.SampleRate)
}

// Mono mixes the interleaved channels down to normalized [-1,1] samples for
// waveform rendering.
func (c *Clip) Mono() []float64 {
	if c.Channels <= 0 {
		return nil
	}
	frames := len(c.Data) / c.Channels
	out := make([]float64, frames)
	for f := 0; f < frames; f++ {
		sum := 0.0
		for ch := 0; ch < c.Channels; ch++ {
			sum += float64(c.Data[f*c.Channels+ch])
		}
		out[f] = sum / float64(c.Channels) / 32768.0
	}
	return out
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// DecodeWAV parses b as a RIFF/WAVE stream. Errors wrap ErrDecodeFailed.
func DecodeWAV(b []byte) (*Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrDecodeFailed)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		data       []byte
		haveFmt    bool
	)

	// Walk the chunk list. Chunks are word-aligned.
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrDecodeFailed, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrDecodeFailed)
			}
			format = binary.LittleEndian.Uint16(b[body : body+2])
			channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			data = b[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // pad byte
		}
	}

	if !haveFmt || data == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrDecodeFailed)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: fmt chunk has %d channels at %d Hz", ErrDecodeFailed, channels, sampleRate)
	}

	clip := &Clip{SampleRate: sampleRate, Channels: channels}
	switch {
	case format == wavFormatPCM && bits == 8:
		// 8-bit PCM is unsigned, centered on 0x80.
		clip.Data = make([]int16, len(data))
		for i, s := range data {
			clip.Data[i] = int16(int(s)-128) << 8
		}
	case format == wavFormatPCM && bits == 16:
		n := len(data) / 2
		clip.Data = make([]int16, n)
		for i := 0; i < n; i++ {
			clip.Data[i] = int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		}
	case format == wavFormatFloat && bits == 32:
		n := len(data) / 4
		clip.Data = make([]int16, n)
		for i := 0; i < n; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[4*i : 4*i+4]))
			clip.Data[i] = floatToInt16(float64(f))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %d/%d-bit", ErrDecodeFailed, format, bits)
	}
	return clip, nil
}

func floatToInt16(f float64) int16 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int16(math.Round(f * 32767))
}

// EncodeWAV serializes the clip as RIFF / PCM 16-bit little-endian.
func EncodeWAV(c *Clip) []byte {
	dataLen := len(c.Data) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.SampleRate))
	byteRate := c.SampleRate * c.Channels * 2
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(c.Channels*2)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range c.Data {
		binary.LittleEndian.PutUint16(buf[44+2*i:46+2*i], uint16(s))
	}
	return buf
}
