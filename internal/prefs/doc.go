// Package prefs persists small per-user preferences such as playback
// volume.
package prefs
