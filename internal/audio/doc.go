// Package audio provides the production playback backend: an oto device,
// decoding of mp3 and wav narration into PCM, a rate-limited fetcher for
// remote sources, and the factory that picks a real or mock backend.
package audio
