package audio

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/playback"
)

// Kind selects the playback backend.
type Kind string

const (
	// KindAuto uses the real device unless running in CI or it fails to open.
	KindAuto Kind = "auto"
	// KindProduction always uses the real device.
	KindProduction Kind = "production"
	// KindMock plays silently in real time.
	KindMock Kind = "mock"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAuto, KindProduction, KindMock:
		return k, nil
	case "":
		return KindAuto, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q: use auto, production or mock", s)
	}
}

// Backend bundles an output with its unlock capability.
type Backend struct {
	Output   playback.Output
	Unlocker playback.Unlocker
	Mock     bool
}

// Close releases the output.
func (b *Backend) Close() error {
	return b.Output.Close()
}

// mockBytesPerSecond approximates 128 kbit/s mp3 for simulated timing.
const mockBytesPerSecond = 16000

// NewBackend creates the backend for kind.
func NewBackend(kind Kind, cfg Config, fetcher *Fetcher, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Default()
	}

	switch kind {
	case KindProduction:
		logger.Debug("Creating production audio backend")
		return newDeviceBackend(cfg, fetcher, logger)

	case KindMock:
		logger.Debug("Creating mock audio backend")
		return newMockBackend(), nil

	case KindAuto, "":
		if IsCI() {
			logger.Info("Using mock audio backend", "reason", "CI environment")
			return newMockBackend(), nil
		}
		b, err := newDeviceBackend(cfg, fetcher, logger)
		if err != nil {
			logger.Warn("Failed to open audio device, falling back to mock", "error", err)
			return newMockBackend(), nil
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown audio backend: %v", kind)
	}
}

func newDeviceBackend(cfg Config, fetcher *Fetcher, logger *log.Logger) (*Backend, error) {
	dev, err := OpenDevice(cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Output:   NewOutput(dev, fetcher, logger),
		Unlocker: NewUnlocker(dev, logger),
	}, nil
}

func newMockBackend() *Backend {
	return &Backend{
		Output:   playback.NewSimulatedMockOutput(mockBytesPerSecond),
		Unlocker: &playback.MockUnlocker{},
		Mock:     true,
	}
}

// IsCI detects if we're running in a CI environment or mock audio was
// requested through the environment.
func IsCI() bool {
	ciVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_URL",
		"TRAVIS",
		"CIRCLECI",
		"BUILDKITE",
		"DRONE",
		"TEAMCITY_VERSION",
	}
	for _, envVar := range ciVars {
		if val := os.Getenv(envVar); val != "" && val != "false" {
			log.Debug("CI environment detected", "variable", envVar, "value", val)
			return true
		}
	}

	if os.Getenv("STORYAUDIO_MOCK_AUDIO") == "true" {
		log.Debug("Mock audio requested via environment variable")
		return true
	}
	return false
}
