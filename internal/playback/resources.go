package playback

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const resourceScheme = "blob:"

// MaxTrackedResources is the default ceiling on live in-memory resources.
const MaxTrackedResources = 50

// Resource is a revocable handle to in-memory audio bytes.
type Resource struct {
	Handle   string
	MimeType string
	Data     []byte
}

// Media returns the resource as a playable source.
func (r *Resource) Media() Media {
	return Media{Src: r.Handle, MimeType: r.MimeType, Data: r.Data}
}

// ResourceManager mints and revokes resource handles. It keeps at most
// ceiling handles alive; when the ceiling is hit every handle except the
// one assigned to the live output is revoked.
type ResourceManager struct {
	mu      sync.Mutex
	tracked map[string]*Resource
	ceiling int
	active  func() string
	logger  *log.Logger
}

// NewResourceManager creates a manager. active reports the handle assigned
// to the live output and may be nil.
func NewResourceManager(ceiling int, active func() string, logger *log.Logger) *ResourceManager {
	if ceiling < 1 {
		ceiling = MaxTrackedResources
	}
	if active == nil {
		active = func() string { return "" }
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ResourceManager{
		tracked: make(map[string]*Resource),
		ceiling: ceiling,
		active:  active,
		logger:  logger,
	}
}

// Create registers data under a fresh handle.
func (m *ResourceManager) Create(data []byte, mimeType string) (*Resource, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	// Query outside the lock; the player never calls back into the manager
	// while holding its own lock.
	active := m.active()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tracked) >= m.ceiling {
		m.evictLocked(active)
	}

	res := &Resource{
		Handle:   resourceScheme + uuid.NewString(),
		MimeType: mimeType,
		Data:     data,
	}
	m.tracked[res.Handle] = res
	return res, nil
}

// evictLocked revokes every handle except keep.
func (m *ResourceManager) evictLocked(keep string) {
	evicted := 0
	for handle := range m.tracked {
		if handle == keep {
			continue
		}
		delete(m.tracked, handle)
		evicted++
	}
	m.logger.Warn("Resource ceiling reached, evicted tracked resources",
		"evicted", evicted,
		"kept", keep,
		"ceiling", m.ceiling)
}

// Lookup returns the resource for a live handle.
func (m *ResourceManager) Lookup(handle string) (*Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.tracked[handle]
	return res, ok
}

// Revoke releases a handle. Unknown and already revoked handles are ignored.
func (m *ResourceManager) Revoke(handle string) {
	if !strings.HasPrefix(handle, resourceScheme) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, handle)
}

// RevokeAll releases every handle.
func (m *ResourceManager) RevokeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tracked)
}

// Len returns the number of live handles.
func (m *ResourceManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// DecodePayload decodes base64 audio text. Standard and URL alphabets are
// accepted, with or without padding.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyAudio
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: not valid base64", ErrInvalidPayload)
}

// MimeTypeFor maps a format hint such as "mp3" to a MIME type.
func MimeTypeFor(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if strings.Contains(format, "/") {
		return format
	}
	switch format {
	case "", "mp3", "mpeg":
		return "audio/mpeg"
	case "wav", "wave":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "pcm", "raw", "s16le":
		return "audio/pcm"
	default:
		return "audio/" + format
	}
}

// mimeFromURL guesses the MIME type of a remote source from its extension.
// An empty result lets the output sniff the content type.
func mimeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return ""
	}
	return MimeTypeFor(ext)
}
