package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Streaming MP3 decode through an external decoder process. The
// decoder writes WAV to stdout; the header is parsed from the stream
// and the payload re-framed into canonical PCM frames as it arrives,
// so playback starts before the file finishes decoding and nothing is
// prefetched beyond the pipe buffer.

// DecodeFile decodes path and calls emit for every complete canonical
// PCM frame. emit returning an error aborts the decode. The trailing
// partial frame is dropped.
func DecodeFile(decoderPath, path string, emit func(frame []byte) error) error {
	if decoderPath == "" {
		decoderPath = "lame"
	}

	cmd := exec.Command(decoderPath, "--quiet", "--decode", path, "-")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	r := bufio.NewReaderSize(stdout, 64*1024)
	dataLen, err := readWAVHeader(r)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	frame := make([]byte, PCMFrameSize)
	remaining := dataLen
	for remaining >= PCMFrameSize {
		if _, err := io.ReadFull(r, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil // decoder undershot the declared length
			}
			return fmt.Errorf("read PCM: %w", err)
		}
		out := make([]byte, PCMFrameSize)
		copy(out, frame)
		if err := emit(out); err != nil {
			return err
		}
		remaining -= PCMFrameSize
	}
	return nil
}

// readWAVHeader consumes RIFF chunks up to and including the data
// chunk header, validates the canonical format, and returns the data
// payload length.
func readWAVHeader(r io.Reader) (int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return 0, fmt.Errorf("short RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, fmt.Errorf("decoder output is not RIFF/WAVE")
	}

	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, fmt.Errorf("chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, fmt.Errorf("short fmt chunk")
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return 0, fmt.Errorf("fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:])
			channels := int(binary.LittleEndian.Uint16(body[2:]))
			rate := int(binary.LittleEndian.Uint32(body[4:]))
			bits := int(binary.LittleEndian.Uint16(body[14:]))
			if format != 1 || rate != PCMSampleRate || channels != PCMChannels || bits != 16 {
				return 0, fmt.Errorf("decoded format %dHz/%dch/%dbit, need %dHz/%dch/16bit",
					rate, channels, bits, PCMSampleRate, PCMChannels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, fmt.Errorf("data chunk before fmt")
			}
			if size <= 0 {
				// Pipes cannot seek back to patch the size; lame
				// writes 0 or -1 there when decoding to stdout.
				size = int(^uint32(0) >> 1)
			}
			return size, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return 0, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// NominalDuration estimates the play time of an MP3 file from its
// first frame header and byte size. CBR assumption; a VBR file gets
// an approximation, which only shifts the wall-clock segment end.
func NominalDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	head := make([]byte, 16*1024)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	bitrate := firstMP3Bitrate(head)
	if bitrate == 0 {
		return 0, fmt.Errorf("no MP3 frame header in %s", path)
	}
	seconds := float64(info.Size()) * 8 / float64(bitrate)
	return time.Duration(seconds * float64(time.Second)), nil
}

var mp3BitrateTable = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// firstMP3Bitrate scans for the first valid MPEG-1 Layer III header
// and returns its bitrate in bits per second.
func firstMP3Bitrate(b []byte) int {
	for i := 0; i+4 <= len(b); i++ {
		if b[i] != 0xFF || b[i+1]&0xE0 != 0xE0 {
			continue
		}
		if (b[i+1]>>3)&0x03 != 3 || (b[i+1]>>1)&0x03 != 1 {
			continue
		}
		idx := (b[i+2] >> 4) & 0x0F
		if idx == 0 || idx == 15 {
			continue
		}
		return mp3BitrateTable[idx] * 1000
	}
	return 0
}
