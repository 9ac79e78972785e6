//go:build nocgo
// +build nocgo

package audio

// OpenDevice is unavailable in builds without cgo.
func OpenDevice(Config) (Device, error) {
	return nil, ErrNoAudioDevice
}
