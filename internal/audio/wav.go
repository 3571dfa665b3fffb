package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotWAV is returned when a file does not start with a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// headerSize is the size of a canonical PCM WAV header
const headerSize = 44

// Info describes a WAV segment on disk
type Info struct {
	Format     Format
	DataOffset int64         // Offset of the first PCM byte
	DataSize   int64         // Size of the PCM payload in bytes
	Duration   time.Duration // Playback time of the payload
}

// Empty reports whether the file carries no audio at all
func (i Info) Empty() bool {
	return i.DataSize <= 0
}

// EncodeHeader returns a canonical 44-byte PCM WAV header for dataSize bytes of audio
func EncodeHeader(f Format, dataSize uint32) []byte {
	header := make([]byte, headerSize)

	// RIFF chunk descriptor
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")

	// "fmt " sub-chunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.BitsPerSample))

	// "data" sub-chunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	return header
}

// ReadInfo walks the RIFF chunks of r until it finds the data chunk.
// fileSize is used when the writer left the data size unset (streamed
// output), in which case the payload extends to the end of the file.
func ReadInfo(r io.Reader, fileSize int64) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var (
		info      Info
		haveFmt   bool
		offset    int64 = 12
		chunkHead [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunkHead[:]); err != nil {
			return Info{}, fmt.Errorf("read chunk header: %w", err)
		}
		offset += 8
		id := string(chunkHead[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHead[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, fmt.Errorf("fmt chunk too short: %d", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return Info{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.Format = Format{
				Channels:      int(binary.LittleEndian.Uint16(buf[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(buf[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(buf[14:16])),
			}
			haveFmt = true
			offset += size
		case "data":
			if !haveFmt {
				return Info{}, errors.New("data chunk before fmt chunk")
			}
			info.DataOffset = offset
			remaining := fileSize - offset
			if size == 0 || size == 0xFFFFFFFF || (fileSize > 0 && size > remaining) {
				size = remaining
			}
			if size < 0 {
				size = 0
			}
			info.DataSize = size
			info.Duration = info.Format.Duration(size)
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return Info{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
			offset += size
		}
		// Chunks are word aligned
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return Info{}, fmt.Errorf("skip pad byte: %w", err)
			}
			offset++
		}
	}
}

// Inspect opens a WAV file and reports its format and payload size
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	return ReadInfo(f, st.Size())
}

// WriteFile writes a WAV file holding pcm in the given format
func WriteFile(path string, f Format, pcm []byte) error {
	data := append(EncodeHeader(f, uint32(len(pcm))), pcm...)
	return os.WriteFile(path, data, 0o644)
}
