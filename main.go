// Package main provides the entry point for the storyaudio CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/audio"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const appName = "storyaudio"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	volume     float64
	user       string
	mockAudio  bool
	streamSrc  string
	tui        bool
	plain      bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "storyaudio [FILE|URL...]",
		Short: "Play narrated stories in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nPlay AI-narrated stories %s, one segment after another.", keyword("without gaps")),
		),
		Example:          paragraph("storyaudio intro.mp3 chapter1.wav\nstoryaudio --stream story.ndjson\nnarrator | storyaudio --stream -"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return []string{"mp3", "wav"}, cobra.ShellCompDirectiveFilterFileExt
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	debug = viper.GetBool("debug")
	level, err := log.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	user = strings.TrimSpace(viper.GetString("user"))
	tui = viper.GetBool("tui")

	if tui && plain {
		return errors.New("cannot use both tui and plain")
	}
	if !cmd.Flags().Changed("tui") && !plain {
		// Only draw the control bar on a real terminal.
		tui = tui && term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
	}
	if plain {
		tui = false
	}

	if cmd.Flags().Changed("volume") && (volume < 0 || volume > 1) {
		return fmt.Errorf("volume must be between 0 and 1, got %.2f", volume)
	}

	if mockAudio {
		viper.Set("audio.backend", string(audio.KindMock))
	}
	if _, err := audio.ParseKind(viper.GetString("audio.backend")); err != nil {
		return err
	}

	rate := viper.GetInt("audio.sample_rate")
	if rate != 44100 && rate != 48000 {
		return fmt.Errorf("audio.sample_rate must be 44100 or 48000, got %d", rate)
	}
	channels := viper.GetInt("audio.channels")
	if channels != 1 && channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", channels)
	}

	maxCacheSize := viper.GetInt("cache.max_size_mb")
	if maxCacheSize < 1 || maxCacheSize > 10000 {
		return fmt.Errorf("cache.max_size_mb must be between 1 and 10000 MB, got %d", maxCacheSize)
	}
	compression := viper.GetInt("cache.compression")
	if compression < 0 || compression > 22 {
		return fmt.Errorf("cache.compression must be between 0 and 22, got %d", compression)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")
	rootCmd.Flags().Float64Var(&volume, "volume", 1, "set and remember the playback volume (0 to 1)")
	rootCmd.Flags().StringVarP(&user, "user", "u", "", "user whose volume preference to use")
	rootCmd.Flags().BoolVar(&mockAudio, "mock-audio", false, "play silently without an audio device")
	rootCmd.Flags().StringVar(&streamSrc, "stream", "", "read narration frames from a file, URL or - for stdin")
	rootCmd.Flags().BoolVarP(&tui, "tui", "t", true, "show the interactive control bar")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "print captions instead of the control bar")

	_ = viper.BindPFlag("user", rootCmd.Flags().Lookup("user"))
	_ = viper.BindPFlag("tui", rootCmd.Flags().Lookup("tui"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("user", "")
	viper.SetDefault("tui", true)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("audio.backend", string(audio.KindAuto))
	viper.SetDefault("audio.sample_rate", audio.DefaultConfig().SampleRate)
	viper.SetDefault("audio.channels", audio.DefaultConfig().Channels)
	viper.SetDefault("audio.buffer", audio.DefaultConfig().Buffer)
	viper.SetDefault("fetch.timeout", audio.DefaultFetchConfig().Timeout)
	viper.SetDefault("fetch.requests_per_minute", audio.DefaultFetchConfig().RequestsPerMinute)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.max_size_mb", 100)
	viper.SetDefault("cache.compression", 3)
	viper.SetDefault("prefs.file", "")

	rootCmd.AddCommand(configCmd, cacheCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("STORYAUDIO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], appName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
