package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for the config directory and the CLI name
	DefaultAppName        = "fsearch"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultIndexDir       = filepath.Join(DefaultConfigPath, "index")
	DefaultStateFile      = filepath.Join(DefaultConfigPath, "journal.toml")
	DefaultIgnoreFileName = "." + DefaultAppName + "ignore"

	// IndexFileExt is appended to the sanitized volume id of every persisted index
	IndexFileExt = ".fd"

	// DefaultBatchSize is how many matches a single volume contributes per search pass
	DefaultBatchSize = 20
)

// DefaultRoots returns the roots indexed by the walk strategy when none are configured.
func DefaultRoots() []string {
	return []string{getHomeDir()}
}

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// NewLogger builds the root logger from the configured level. Unknown levels fall back to info.
func NewLogger(level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
