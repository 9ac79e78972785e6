package playback

import (
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestResourceManager_CreateAndRevoke(t *testing.T) {
	m := NewResourceManager(10, nil, log.New(io.Discard))

	a, err := m.Create([]byte("one"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, _ := m.Create([]byte("two"), "audio/mpeg")

	if !strings.HasPrefix(a.Handle, "blob:") {
		t.Errorf("Expected blob handle, got %s", a.Handle)
	}
	if a.Handle == b.Handle {
		t.Error("Expected unique handles")
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 tracked, got %d", m.Len())
	}

	m.Revoke(a.Handle)
	m.Revoke(a.Handle)
	m.Revoke("blob:unknown")
	m.Revoke("https://example.com/a.mp3")

	if _, ok := m.Lookup(a.Handle); ok {
		t.Error("Expected revoked handle to be gone")
	}
	if m.Len() != 1 {
		t.Errorf("Expected 1 tracked, got %d", m.Len())
	}
}

func TestResourceManager_RejectsEmpty(t *testing.T) {
	m := NewResourceManager(10, nil, log.New(io.Discard))
	if _, err := m.Create(nil, "audio/mpeg"); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
}

func TestResourceManager_CeilingKeepsActive(t *testing.T) {
	var active string
	m := NewResourceManager(MaxTrackedResources, func() string { return active }, log.New(io.Discard))

	handles := make([]string, 0, MaxTrackedResources)
	for i := 0; i < MaxTrackedResources; i++ {
		res, err := m.Create([]byte{byte(i)}, "audio/mpeg")
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		handles = append(handles, res.Handle)
	}
	active = handles[7]

	next, err := m.Create([]byte("next"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Create at ceiling failed: %v", err)
	}

	if m.Len() != 2 {
		t.Errorf("Expected active and new resource only, got %d", m.Len())
	}
	if _, ok := m.Lookup(active); !ok {
		t.Error("Expected active resource to survive eviction")
	}
	if _, ok := m.Lookup(next.Handle); !ok {
		t.Error("Expected new resource to be tracked")
	}
	if _, ok := m.Lookup(handles[0]); ok {
		t.Error("Expected inactive resource to be evicted")
	}
}

func TestResourceManager_NeverExceedsCeiling(t *testing.T) {
	m := NewResourceManager(5, nil, log.New(io.Discard))
	for i := 0; i < 23; i++ {
		_, _ = m.Create([]byte{1}, "audio/mpeg")
		if m.Len() > 5 {
			t.Fatalf("Tracked set grew to %d", m.Len())
		}
	}
}

func TestResourceManager_RevokeAll(t *testing.T) {
	m := NewResourceManager(10, nil, log.New(io.Discard))
	_, _ = m.Create([]byte{1}, "audio/mpeg")
	_, _ = m.Create([]byte{2}, "audio/mpeg")
	m.RevokeAll()
	if m.Len() != 0 {
		t.Errorf("Expected no tracked resources, got %d", m.Len())
	}
}

func TestDecodePayload(t *testing.T) {
	raw := []byte{0xff, 0xfb, 0x90, 0x00, 0x01}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"standard", base64.StdEncoding.EncodeToString(raw), false},
		{"raw standard", base64.RawStdEncoding.EncodeToString(raw), false},
		{"url", base64.URLEncoding.EncodeToString(raw), false},
		{"raw url", base64.RawURLEncoding.EncodeToString(raw), false},
		{"whitespace", "  " + base64.StdEncoding.EncodeToString(raw) + "\n", false},
		{"empty", "", true},
		{"garbage", "not base64 at all!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(got) != string(raw) {
				t.Errorf("Expected %v, got %v", raw, got)
			}
		})
	}
}

func TestMimeTypeFor(t *testing.T) {
	tests := map[string]string{
		"":           "audio/mpeg",
		"mp3":        "audio/mpeg",
		"MP3":        "audio/mpeg",
		"wav":        "audio/wav",
		"webm":       "audio/webm",
		"ogg":        "audio/ogg",
		"pcm":        "audio/pcm",
		"audio/flac": "audio/flac",
		"aac":        "audio/aac",
	}
	for in, want := range tests {
		if got := MimeTypeFor(in); got != want {
			t.Errorf("MimeTypeFor(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestMimeFromURL(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/story/seg-1.mp3?sig=abc": "audio/mpeg",
		"https://cdn.example.com/story/seg-1.wav":         "audio/wav",
		"https://cdn.example.com/stream":                  "",
	}
	for in, want := range tests {
		if got := mimeFromURL(in); got != want {
			t.Errorf("mimeFromURL(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestMedia_IsRemote(t *testing.T) {
	if (Media{Src: "blob:x", Data: []byte{1}}).IsRemote() {
		t.Error("Expected blob media to be local")
	}
	if !(Media{Src: "https://example.com/a.mp3"}).IsRemote() {
		t.Error("Expected URL media to be remote")
	}
}
