package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultSampleRate matches the synthesis backend's native output rate.
const DefaultSampleRate = 24000

var ErrNotWAV = errors.New("not a pcm16 wav stream")

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Silence returns raw PCM16LE mono silence of the given duration.
func Silence(d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if d < 0 {
		d = 0
	}
	samples := int(d.Seconds() * float64(sampleRate))
	return make([]byte, samples*2)
}

// Duration estimates the playback duration of a PCM WAV byte stream by
// walking its RIFF chunks.
func Duration(wav []byte) (time.Duration, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var (
		byteRate uint32
		dataSize uint32
		haveFmt  bool
		haveData bool
	)

	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := binary.LittleEndian.Uint32(wav[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if int(size) < 16 || body+16 > len(wav) {
				return 0, ErrNotWAV
			}
			byteRate = binary.LittleEndian.Uint32(wav[body+8 : body+12])
			haveFmt = true
		case "data":
			dataSize = size
			if int(dataSize) > len(wav)-body {
				dataSize = uint32(len(wav) - body)
			}
			haveData = true
		}
		if haveFmt && haveData {
			break
		}
		// Chunks are word-aligned.
		off = body + int(size) + int(size)%2
	}

	if !haveFmt || !haveData || byteRate == 0 {
		return 0, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	}
	return time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second)), nil
}
