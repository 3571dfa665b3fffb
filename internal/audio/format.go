package audio

import "time"

// Format describes an uncompressed PCM stream
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// SpeechFormat is what the capture process produces: 16 kHz mono PCM16
var SpeechFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// BytesPerSecond returns the PCM byte rate of the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BytesPerMs returns the PCM byte rate per millisecond
func (f Format) BytesPerMs() int {
	return f.BytesPerSecond() / 1000
}

// BlockAlign returns the size of one sample frame in bytes
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Duration converts a PCM payload size into playback time
func (f Format) Duration(dataBytes int64) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || dataBytes <= 0 {
		return 0
	}
	return time.Duration(dataBytes) * time.Second / time.Duration(bps)
}

// Bytes returns the PCM payload size for d of audio, rounded down to whole frames
func (f Format) Bytes(d time.Duration) int {
	n := int(d.Milliseconds()) * f.BytesPerMs()
	if align := f.BlockAlign(); align > 0 {
		n -= n % align
	}
	return n
}
