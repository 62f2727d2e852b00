package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// SampleSource delivers complex baseband samples to the pulse extractor.
// The tuner setters are best-effort: file sources ignore them.
type SampleSource interface {
	io.Closer
	SampleRate() int
	CenterFreq() uint32
	// Read fills buf with samples and returns the count; io.EOF ends the run.
	Read(buf []complex128) (int, error)
	SetCenterFreq(hz uint32) error
	SetSampleRate(rate int) error
	SetGain(db float64) error
	SetPPM(ppm int) error
}

// OpenSource picks a source from the device string: "rtltcp://host:port"
// dials a networked dongle, anything else is a capture file. Capture files
// are raw I/Q named *.cu8 (unsigned 8-bit), *.cs16 (signed 16-bit LE) or
// *.cf32 (float32 LE), optionally zstd-compressed with a .zst suffix.
func OpenSource(cfg *InputConfig) (SampleSource, error) {
	freq, err := ParseFrequency(cfg.Frequencies[0])
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(cfg.Device, "rtltcp://") {
		return dialRtlTCP(strings.TrimPrefix(cfg.Device, "rtltcp://"), cfg, freq)
	}
	return openFileSource(cfg.Device, cfg.SampleRate, freq)
}

type sampleFormat int

const (
	formatCU8 sampleFormat = iota
	formatCS16
	formatCF32
)

// FileSource replays a capture file at the declared sample rate.
type FileSource struct {
	f      *os.File
	r      io.Reader
	zr     *zstd.Decoder
	format sampleFormat
	rate   int
	freq   uint32
	raw    []byte
}

func openFileSource(path string, rate int, freq uint32) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	src := &FileSource{f: f, rate: rate, freq: freq}

	name := path
	var r io.Reader = bufio.NewReaderSize(f, 1<<16)
	if filepath.Ext(name) == ".zst" {
		zr, err := zstd.NewReader(r)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		src.zr = zr
		r = zr
		name = strings.TrimSuffix(name, ".zst")
	}
	src.r = r

	switch filepath.Ext(name) {
	case ".cu8", ".data", "":
		src.format = formatCU8
	case ".cs16":
		src.format = formatCS16
	case ".cf32":
		src.format = formatCF32
	default:
		f.Close()
		return nil, fmt.Errorf("unknown capture format %q", filepath.Ext(name))
	}
	return src, nil
}

func (s *FileSource) SampleRate() int    { return s.rate }
func (s *FileSource) CenterFreq() uint32 { return s.freq }

func (s *FileSource) Read(buf []complex128) (int, error) {
	bytesPer := 2
	switch s.format {
	case formatCS16:
		bytesPer = 4
	case formatCF32:
		bytesPer = 8
	}
	need := len(buf) * bytesPer
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	n, err := io.ReadFull(s.r, s.raw[:need])
	n -= n % bytesPer
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	count := n / bytesPer
	for i := 0; i < count; i++ {
		var re, im float64
		switch s.format {
		case formatCU8:
			re = (float64(s.raw[2*i]) - 127.5) / 127.5
			im = (float64(s.raw[2*i+1]) - 127.5) / 127.5
		case formatCS16:
			re = float64(int16(binary.LittleEndian.Uint16(s.raw[4*i:]))) / 32768
			im = float64(int16(binary.LittleEndian.Uint16(s.raw[4*i+2:]))) / 32768
		case formatCF32:
			re = float64(math.Float32frombits(binary.LittleEndian.Uint32(s.raw[8*i:])))
			im = float64(math.Float32frombits(binary.LittleEndian.Uint32(s.raw[8*i+4:])))
		}
		buf[i] = complex(re, im)
	}
	return count, nil
}

func (s *FileSource) Close() error {
	if s.zr != nil {
		s.zr.Close()
	}
	return s.f.Close()
}

func (s *FileSource) SetCenterFreq(uint32) error { return nil }
func (s *FileSource) SetSampleRate(int) error    { return nil }
func (s *FileSource) SetGain(float64) error      { return nil }
func (s *FileSource) SetPPM(int) error           { return nil }
