package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sinePCM(freq float64, nSamples int) []byte {
	pcm := make([]byte, nSamples*2)
	for i := range nSamples {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/SampleRate) * 8000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func writeTempWAV(t *testing.T, pcm []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, pcm); err != nil {
		f.Close()
		t.Fatalf("WriteWAV: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWriteWAVHeader(t *testing.T) {
	pcm := sinePCM(440, SampleRate/2)
	path := writeTempWAV(t, pcm)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic: %q", data[:12])
	}
	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != Channels {
		t.Errorf("channels = %d, want %d", got, Channels)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != BitsPerSample {
		t.Errorf("bits per sample = %d, want %d", got, BitsPerSample)
	}
	if !bytes.HasSuffix(data, pcm) {
		t.Error("sample data not written verbatim at end of file")
	}
}

func TestReadWAVInfo(t *testing.T) {
	pcm := sinePCM(440, SampleRate)
	path := writeTempWAV(t, pcm)

	info, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("ReadWAVInfo: %v", err)
	}
	if !info.IsSpeechFormat() {
		t.Errorf("IsSpeechFormat() = false for %+v", info)
	}
	if info.DataBytes != len(pcm) {
		t.Errorf("DataBytes = %d, want %d", info.DataBytes, len(pcm))
	}
	if info.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", info.Duration())
	}
}

func TestReadWAVInfoEmpty(t *testing.T) {
	path := writeTempWAV(t, nil)

	info, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("ReadWAVInfo: %v", err)
	}
	if info.DataBytes != 0 {
		t.Errorf("DataBytes = %d, want 0", info.DataBytes)
	}
}

func TestReadWAVInfoGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav file, just text"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAVInfo(path); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestReadPCM(t *testing.T) {
	pcm := sinePCM(300, 2500)
	path := writeTempWAV(t, pcm)

	got, err := ReadPCM(path)
	if err != nil {
		t.Fatalf("ReadPCM: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("ReadPCM returned %d bytes differing from the %d written", len(got), len(pcm))
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(SampleRate * BytesPerFrame * 3); got != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got)
	}
	if got := Duration(1024 * BytesPerFrame); got != 64*time.Millisecond {
		t.Errorf("Duration(1 chunk) = %v, want 64ms", got)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(make([]byte, 2048)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	if got := RMS(sinePCM(440, 1600)); got < 0.1 || got > 0.25 {
		t.Errorf("RMS(sine) = %v, want roughly 0.17", got)
	}
}
