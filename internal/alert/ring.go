package alert

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const DefaultSampleRate = 22050

const (
	bitDepth = 16
	wavPCM   = 1
)

// Tone is a sine tone at Frequency Hz; a zero frequency is silence.
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

const (
	ringHigh    = 880.0
	ringLow     = 660.0
	ringTone    = 200 * time.Millisecond
	ringPause   = 300 * time.Millisecond
	ringRepeats = 4
)

// RingPattern is a two-tone telephone-style cadence repeated four times.
func RingPattern() []Tone {
	pattern := make([]Tone, 0, ringRepeats*3)
	for i := 0; i < ringRepeats; i++ {
		pattern = append(pattern,
			Tone{Frequency: ringHigh, Duration: ringTone},
			Tone{Frequency: ringLow, Duration: ringTone},
			Tone{Duration: ringPause},
		)
	}
	return pattern
}

func PatternDuration(pattern []Tone) time.Duration {
	var d time.Duration
	for _, tone := range pattern {
		d += tone.Duration
	}
	return d
}

// Synthesize renders pattern as signed 16-bit mono samples. Each tone gets a
// short linear fade in and out so the cadence does not click.
func Synthesize(pattern []Tone, sampleRate int) *audio.IntBuffer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	const amplitude = 0.3 * math.MaxInt16
	fade := sampleRate / 200

	var samples []int
	for _, tone := range pattern {
		n := int(math.Round(tone.Duration.Seconds() * float64(sampleRate)))
		for i := 0; i < n; i++ {
			if tone.Frequency == 0 {
				samples = append(samples, 0)
				continue
			}
			env := 1.0
			if i < fade {
				env = float64(i) / float64(fade)
			} else if n-i < fade {
				env = float64(n-i) / float64(fade)
			}
			v := amplitude * env * math.Sin(2*math.Pi*tone.Frequency*float64(i)/float64(sampleRate))
			samples = append(samples, int(v))
		}
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
}

// RenderWAV encodes pattern as a 16-bit PCM RIFF/WAVE file.
func RenderWAV(pattern []Tone, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, 1, wavPCM)
	if err := enc.Write(Synthesize(pattern, sampleRate)); err != nil {
		return nil, fmt.Errorf("encode ring: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish ring: %w", err)
	}
	return out.buf, nil
}

// memFile is a growable in-memory io.WriteSeeker; the encoder seeks back to
// patch chunk sizes once all samples are written.
type memFile struct {
	buf []byte
	pos int
}

func (f *memFile) Write(p []byte) (int, error) {
	if end := f.pos + len(p); end > len(f.buf) {
		f.buf = append(f.buf, make([]byte, end-len(f.buf))...)
	}
	n := copy(f.buf[f.pos:], p)
	f.pos += n
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(f.pos) + offset
	case io.SeekEnd:
		abs = int64(len(f.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	f.pos = int(abs)
	return abs, nil
}
