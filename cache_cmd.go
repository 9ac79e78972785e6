package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dgnsrekt/storyaudio/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	olderThan time.Duration

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear downloaded audio",
		Long:  paragraph(fmt.Sprintf("\nRemote narration clips are %s so replaying a story does not download them again.", keyword("cached on disk"))),
		Args:  cobra.NoArgs,
	}

	cacheStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc, err := openCache()
			if err != nil {
				return fmt.Errorf("unable to open cache: %w", err)
			}
			defer dc.Close() //nolint:errcheck

			printCacheStats(cmd.OutOrStdout(), dc.Stats(), time.Now())
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:     "clear",
		Short:   "Remove cached audio",
		Example: paragraph("storyaudio cache clear\nstoryaudio cache clear --older-than 168h"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc, err := openCache()
			if err != nil {
				return fmt.Errorf("unable to open cache: %w", err)
			}
			defer dc.Close() //nolint:errcheck

			n, err := clearCache(dc, olderThan, time.Now())
			if err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n",
				humanize.Comma(int64(n))+" "+plural(n, "clip", "clips"), dc.Dir())
			return nil
		},
	}
)

func init() {
	cacheClearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove clips cached longer ago than this")
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd)
}

// clearCache removes everything, or only entries older than age when it
// is positive, and reports how many entries went.
func clearCache(dc *cache.DiskCache, age time.Duration, now time.Time) (int, error) {
	if age > 0 {
		return dc.RemoveOlderThan(now.Add(-age))
	}
	n := dc.Stats().ItemCount
	return n, dc.Clear()
}

func printCacheStats(w io.Writer, s cache.Stats, now time.Time) {
	fmt.Fprintln(w, label("Location")+s.Dir)
	fmt.Fprintln(w, label("Clips")+humanize.Comma(int64(s.ItemCount)))
	fmt.Fprintf(w, "%s%s of %s (%.0f%%)\n", label("Size"),
		humanize.IBytes(uint64(max(0, s.Size))),     //nolint:gosec
		humanize.IBytes(uint64(max(0, s.Capacity))), //nolint:gosec
		100*float64(s.Size)/float64(max(1, s.Capacity)))
	if s.OriginalSize > 0 {
		fmt.Fprintf(w, "%s%.0f%% of original\n", label("Compression"), 100*s.CompressionRatio())
	}
	if !s.Oldest.IsZero() {
		fmt.Fprintln(w, label("Oldest")+humanize.RelTime(s.Oldest, now, "ago", "from now"))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
