package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

// rtl_tcp command opcodes
const (
	rtlSetCenterFreq     = 0x01
	rtlSetSampleRate     = 0x02
	rtlSetGainMode       = 0x03
	rtlSetGain           = 0x04
	rtlSetFreqCorrection = 0x05
	rtlSetAGCMode        = 0x08
)

// RtlTCPSource streams unsigned 8-bit I/Q from an rtl_tcp server. The
// 12-byte greeting carries the "RTL0" magic plus tuner type and gain count.
type RtlTCPSource struct {
	conn net.Conn
	r    *bufio.Reader
	rate int
	freq uint32
	raw  []byte
}

func dialRtlTCP(addr string, cfg *InputConfig, freq uint32) (*RtlTCPSource, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rtl_tcp server: %w", err)
	}
	src := &RtlTCPSource{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 1<<18),
		rate: cfg.SampleRate,
		freq: freq,
	}

	var hdr [12]byte
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(src.r, hdr[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read rtl_tcp header: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if string(hdr[:4]) != "RTL0" {
		conn.Close()
		return nil, fmt.Errorf("not an rtl_tcp server (magic %q)", hdr[:4])
	}
	tuner := binary.BigEndian.Uint32(hdr[4:8])
	gains := binary.BigEndian.Uint32(hdr[8:12])
	log.Printf("rtl_tcp: connected to %s, tuner type %d, %d gain steps", addr, tuner, gains)

	if err := src.SetSampleRate(cfg.SampleRate); err != nil {
		conn.Close()
		return nil, err
	}
	if err := src.SetCenterFreq(freq); err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.PPMError != 0 {
		if err := src.SetPPM(cfg.PPMError); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := src.SetGain(cfg.Gain); err != nil {
		conn.Close()
		return nil, err
	}
	return src, nil
}

func (s *RtlTCPSource) command(op byte, arg uint32) error {
	var cmd [5]byte
	cmd[0] = op
	binary.BigEndian.PutUint32(cmd[1:], arg)
	if _, err := s.conn.Write(cmd[:]); err != nil {
		return fmt.Errorf("rtl_tcp command %#02x failed: %w", op, err)
	}
	return nil
}

func (s *RtlTCPSource) SampleRate() int    { return s.rate }
func (s *RtlTCPSource) CenterFreq() uint32 { return s.freq }

func (s *RtlTCPSource) Read(buf []complex128) (int, error) {
	need := len(buf) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	n, err := io.ReadFull(s.r, s.raw[:need])
	n -= n % 2
	if n == 0 {
		return 0, err
	}
	for i := 0; i < n/2; i++ {
		buf[i] = complex(
			(float64(s.raw[2*i])-127.5)/127.5,
			(float64(s.raw[2*i+1])-127.5)/127.5,
		)
	}
	return n / 2, nil
}

func (s *RtlTCPSource) SetCenterFreq(hz uint32) error {
	if err := s.command(rtlSetCenterFreq, hz); err != nil {
		return err
	}
	s.freq = hz
	return nil
}

func (s *RtlTCPSource) SetSampleRate(rate int) error {
	if err := s.command(rtlSetSampleRate, uint32(rate)); err != nil {
		return err
	}
	s.rate = rate
	return nil
}

// SetGain switches to automatic gain for 0 and to manual tenth-dB gain
// otherwise, matching the librtlsdr convention.
func (s *RtlTCPSource) SetGain(db float64) error {
	if db == 0 {
		if err := s.command(rtlSetGainMode, 0); err != nil {
			return err
		}
		return s.command(rtlSetAGCMode, 1)
	}
	if err := s.command(rtlSetGainMode, 1); err != nil {
		return err
	}
	return s.command(rtlSetGain, uint32(db*10))
}

func (s *RtlTCPSource) SetPPM(ppm int) error {
	return s.command(rtlSetFreqCorrection, uint32(int32(ppm)))
}

func (s *RtlTCPSource) Close() error {
	return s.conn.Close()
}
