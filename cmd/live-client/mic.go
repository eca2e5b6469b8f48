package main

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio/device"
)

const nativeFrameSize = 512

// micSource runs the capture pipeline on the default input device for the
// controller.
type micSource struct {
	cfg    audio.CaptureConfig
	logger *zap.Logger

	capture *audio.Capture
	wg      sync.WaitGroup
}

func (m *micSource) Start(onChunk func(audio.Chunk)) error {
	if m.capture != nil {
		return errors.New("microphone already running")
	}

	var primary audio.InputDevice
	if mic, err := device.NativeMicrophone(nativeFrameSize); err != nil {
		m.logger.Warn("No native input device", zap.Error(err))
	} else {
		primary = mic
	}
	fallback := device.FixedRateMicrophone(m.cfg.TargetRate, m.cfg.ChunkSamples)

	capture, err := audio.StartCapture(primary, fallback, m.cfg, m.logger)
	if err != nil {
		return err
	}
	m.capture = capture

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case chunk := <-capture.Chunks():
				onChunk(chunk)
			case <-capture.Done():
				return
			}
		}
	}()
	return nil
}

func (m *micSource) Stop() error {
	if m.capture == nil {
		return nil
	}
	err := m.capture.Stop()
	m.wg.Wait()
	m.capture = nil
	return err
}
