package playback

import "github.com/charmbracelet/log"

// LegacyVolumeKey is the unscoped key older builds stored the volume under.
const LegacyVolumeKey = "audio.volume"

// DefaultVolume applies when nothing has been persisted.
const DefaultVolume = 1.0

// VolumeStore persists preferences. prefs.FileStore satisfies it.
type VolumeStore interface {
	Float(key string) (float64, bool, error)
	SetFloat(key string, v float64) error
	Delete(key string) error
}

// VolumeKey returns the per-user key. Anonymous users share the legacy key.
func VolumeKey(user string) string {
	if user == "" {
		return LegacyVolumeKey
	}
	return LegacyVolumeKey + "." + user
}

// loadVolume reads the user's volume, migrating a legacy value forward.
func loadVolume(store VolumeStore, user string, logger *log.Logger) float64 {
	if store == nil {
		return DefaultVolume
	}

	key := VolumeKey(user)
	v, ok, err := store.Float(key)
	if err != nil {
		logger.Warn("Could not read volume preference", "key", key, "error", err)
		return DefaultVolume
	}
	if ok {
		return ClampVolume(v)
	}
	if key == LegacyVolumeKey {
		return DefaultVolume
	}

	v, ok, err = store.Float(LegacyVolumeKey)
	if err != nil || !ok {
		return DefaultVolume
	}
	v = ClampVolume(v)
	if err := store.SetFloat(key, v); err != nil {
		logger.Warn("Could not migrate volume preference", "key", key, "error", err)
		return v
	}
	if err := store.Delete(LegacyVolumeKey); err != nil {
		logger.Warn("Could not remove legacy volume preference", "error", err)
	}
	logger.Debug("Migrated legacy volume preference", "user", user, "volume", v)
	return v
}
