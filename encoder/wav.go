package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("not a valid WAV file")

const wavFormatPCM = 1

// WriteWAV writes PCM16 mono little-endian audio as a 16 kHz WAV stream.
// The header is finalized on return, so w must support seeking.
func WriteWAV(w io.WriteSeeker, pcm []byte) error {
	enc := wav.NewEncoder(w, SampleRate, BitsPerSample, Channels, wavFormatPCM)

	samples := Samples(pcm)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: Channels,
			SampleRate:  SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitsPerSample,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("writing wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav header: %w", err)
	}
	return nil
}

type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Format     int
	DataBytes  int
}

func (i WAVInfo) Duration() time.Duration {
	bytesPerSec := i.SampleRate * i.Channels * i.BitDepth / 8
	if bytesPerSec == 0 {
		return 0
	}
	return time.Duration(i.DataBytes) * time.Second / time.Duration(bytesPerSec)
}

// IsSpeechFormat reports whether the file matches what the recorder writes
// and the speech model expects: 16 kHz, mono, 16-bit PCM.
func (i WAVInfo) IsSpeechFormat() bool {
	return i.Format == wavFormatPCM &&
		i.SampleRate == SampleRate &&
		i.Channels == Channels &&
		i.BitDepth == BitsPerSample
}

// ReadWAVInfo parses the header of a WAV file without decoding its samples.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return WAVInfo{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if err := d.FwdToPCM(); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}
	return WAVInfo{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Format:     int(d.WavAudioFormat),
		DataBytes:  d.PCMSize,
	}, nil
}

// ReadPCM decodes a 16-bit mono WAV file back into little-endian PCM16 bytes.
func ReadPCM(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if d.BitDepth != BitsPerSample || d.NumChans != Channels {
		return nil, fmt.Errorf("%w: %s: want %d-bit mono, got %d-bit %d channels",
			ErrInvalidWAV, path, BitsPerSample, d.BitDepth, d.NumChans)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		pcm[i*2] = byte(uint16(int16(s)))
		pcm[i*2+1] = byte(uint16(int16(s)) >> 8)
	}
	return pcm, nil
}
