package domain

// ToolName identifies one required external executable.
type ToolName string

const (
	ToolTranscoder ToolName = "ffmpeg"
	ToolProber     ToolName = "ffprobe"
	ToolDownloader ToolName = "yt-dlp"
)

// ToolSpec is a resolved external tool with its filesystem location.
type ToolSpec struct {
	Name    ToolName `json:"name"`
	Path    string   `json:"path"`
	Version string   `json:"version,omitempty"`
}

// OutputFormat enumerates the audio container formats a job may produce.
type OutputFormat string

const (
	FormatMP3  OutputFormat = "mp3"
	FormatWAV  OutputFormat = "wav"
	FormatFLAC OutputFormat = "flac"
	FormatAAC  OutputFormat = "aac"
)

// IsValidOutputFormat reports whether a format string names a supported output format.
func IsValidOutputFormat(format string) bool {
	switch OutputFormat(format) {
	case FormatMP3, FormatWAV, FormatFLAC, FormatAAC:
		return true
	default:
		return false
	}
}

// MinSemitones and MaxSemitones bound the accepted pitch-shift range.
const (
	MinSemitones = -12
	MaxSemitones = 12
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir    string   `json:"outputDir"`
	DownloadDir  string   `json:"downloadDir"`
	MaxParallel  int      `json:"maxParallel"`
	FFmpegPath   string   `json:"ffmpegPath,omitempty"`
	FFprobePath  string   `json:"ffprobePath,omitempty"`
	YtdlpPath    string   `json:"ytdlpPath,omitempty"`
	AllowedHosts []string `json:"allowedHosts"`
}

// ToolOverride returns the configured path override for a tool, if any.
func (s Settings) ToolOverride(name ToolName) string {
	switch name {
	case ToolTranscoder:
		return s.FFmpegPath
	case ToolProber:
		return s.FFprobePath
	case ToolDownloader:
		return s.YtdlpPath
	default:
		return ""
	}
}

// SystemInfo is the read-only environment probe shown by the UI.
type SystemInfo struct {
	Platform            string `json:"platform"`
	Architecture        string `json:"architecture"`
	TranscoderAvailable bool   `json:"transcoderAvailable"`
	ProberAvailable     bool   `json:"proberAvailable"`
	DownloaderAvailable bool   `json:"downloaderAvailable"`
}

// AudioFileInfo describes one local audio file. Duration is best-effort:
// it stays unset when the prober cannot read the file.
type AudioFileInfo struct {
	Name            string   `json:"name"`
	Path            string   `json:"path"`
	SizeBytes       int64    `json:"sizeBytes"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	Format          string   `json:"format"`
}
