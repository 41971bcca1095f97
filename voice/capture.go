package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"room-engine/contract"
	"room-engine/errors"
)

const (
	sampleRate      = 48000
	channels        = 1
	framesPerBuffer = 960 // 20ms @ 48kHz
)

// PortAudioRecorder captures mono PCM from the default input device
// and returns it WAV-framed. The device is held from Begin to End;
// a second Begin without an End fails without touching the device.
type PortAudioRecorder struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	samples   []int16
	recording bool
}

var _ contract.Recorder = (*PortAudioRecorder)(nil)

func NewPortAudioRecorder() *PortAudioRecorder {
	return &PortAudioRecorder{}
}

func (r *PortAudioRecorder) Begin(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return errors.ErrAlreadyRecording
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	r.samples = r.samples[:0]
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer,
		func(in []int16) {
			r.mu.Lock()
			r.samples = append(r.samples, in...)
			r.mu.Unlock()
		})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start capture stream: %w", err)
	}

	r.stream = stream
	r.recording = true
	return nil
}

func (r *PortAudioRecorder) End() ([]byte, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, errors.ErrNotRecording
	}
	stream := r.stream
	r.mu.Unlock()

	// Stop outside the lock: the capture callback takes it.
	stopErr := stream.Stop()
	closeErr := stream.Close()
	_ = portaudio.Terminate()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.stream = nil

	if stopErr != nil {
		return nil, fmt.Errorf("stop capture stream: %w", stopErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close capture stream: %w", closeErr)
	}
	return EncodeWAV(r.samples, sampleRate), nil
}
