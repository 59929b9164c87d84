package config

import (
	"os"
	"path/filepath"

	"pitch-shifter/internal/domain"
)

// defaultAllowedHosts lists the media hosts downloads may come from.
// Subdomains of each entry are accepted too.
var defaultAllowedHosts = []string{
	"youtube.com",
	"youtu.be",
	"music.youtube.com",
	"soundcloud.com",
	"bandcamp.com",
	"vimeo.com",
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:    filepath.Join(homeDir, "Music", "PitchShifted"),
		DownloadDir:  filepath.Join(homeDir, "Music", "Downloads"),
		MaxParallel:  0,
		AllowedHosts: append([]string(nil), defaultAllowedHosts...),
	}
}

// Normalize fills empty fields with defaults and clamps out-of-range
// values. Saved settings files from older versions stay usable.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	if cfg.OutputDir == "" {
		cfg.OutputDir = defaults.OutputDir
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = defaults.DownloadDir
	}
	if cfg.MaxParallel < 0 {
		cfg.MaxParallel = 0
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = append([]string(nil), defaults.AllowedHosts...)
	}

	return cfg
}
