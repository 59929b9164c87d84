package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"pitch-shifter/internal/config"
	"pitch-shifter/internal/convert"
	"pitch-shifter/internal/diagnostics"
	"pitch-shifter/internal/domain"
	"pitch-shifter/internal/jobs"
	"pitch-shifter/internal/probe"
	"pitch-shifter/internal/process"
	"pitch-shifter/internal/tools"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.wav;*.flac;*.aac;*.m4a;*.ogg;*.opus;*.wma",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// PitchShiftRequest is the UI payload for submitting a conversion.
type PitchShiftRequest struct {
	InputPath    string `json:"inputPath"`
	Semitones    int    `json:"semitones"`
	OutputFormat string `json:"outputFormat"`
	OutputPath   string `json:"outputPath,omitempty"`
}

// DownloadRequest is the UI payload for submitting a remote download.
type DownloadRequest struct {
	URL string `json:"url"`
}

// App wires configuration, tools, the scheduler, and UI runtime callbacks.
type App struct {
	Store     config.Store
	Locator   *tools.Locator
	Prober    *probe.Prober
	Scheduler *jobs.Scheduler

	checker *diagnostics.Checker
	events  *jobs.EventBus
	assets  fs.FS

	mu          sync.Mutex
	settings    domain.Settings
	diagnostics domain.DiagnosticReport
	runtimeCtx  context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".pitch-shifter", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := &App{
		Store:    store,
		settings: settings,
		assets:   assets,
		events:   jobs.NewEventBus(1000),
	}

	app.Locator = tools.NewLocator(func(name domain.ToolName) string {
		return app.currentSettings().ToolOverride(name)
	})
	app.Prober = probe.New(app.Locator)
	app.checker = diagnostics.NewChecker(app.Locator)
	app.diagnostics = app.checker.Run(settings)

	executor := convert.NewExecutor(app.Locator, process.NewRunner(), app.Prober)
	app.Scheduler = jobs.NewScheduler(executor, app.events, settings.MaxParallel)
	app.Scheduler.SetEventSink(app.emitEvent)

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Pitch Shifter",
		Width:       1080,
		Height:      720,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetSystemInfo reports platform details and tool availability.
func (a *App) GetSystemInfo() domain.SystemInfo {
	return domain.SystemInfo{
		Platform:            goruntime.GOOS,
		Architecture:        goruntime.GOARCH,
		TranscoderAvailable: a.Locator.Available(domain.ToolTranscoder),
		ProberAvailable:     a.Locator.Available(domain.ToolProber),
		DownloaderAvailable: a.Locator.Available(domain.ToolDownloader),
	}
}

// GetAudioInfo describes a local audio file, probing its duration.
func (a *App) GetAudioInfo(path string) (domain.AudioFileInfo, error) {
	info, err := a.Prober.AudioInfo(context.Background(), strings.TrimSpace(path))
	if err != nil {
		if errors.Is(err, probe.ErrNotFound) {
			return domain.AudioFileInfo{}, fmt.Errorf("file does not exist: %s", path)
		}
		return domain.AudioFileInfo{}, err
	}
	return info, nil
}

// SubmitPitchShift validates and enqueues one conversion job.
func (a *App) SubmitPitchShift(req PitchShiftRequest) (string, error) {
	input := strings.TrimSpace(req.InputPath)
	if input == "" {
		return "", fmt.Errorf("input path is empty")
	}
	if req.Semitones < domain.MinSemitones || req.Semitones > domain.MaxSemitones {
		return "", fmt.Errorf("semitones %d out of range [%d, %d]",
			req.Semitones, domain.MinSemitones, domain.MaxSemitones)
	}
	if !domain.IsValidOutputFormat(req.OutputFormat) {
		return "", fmt.Errorf("unsupported output format: %q", req.OutputFormat)
	}
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("input file does not exist: %s", input)
	}

	settings := a.currentSettings()
	outputPath := strings.TrimSpace(req.OutputPath)
	if outputPath == "" {
		outputPath = defaultOutputPath(settings.OutputDir, input, req.Semitones, req.OutputFormat)
	}

	return a.Scheduler.Submit(domain.JobRequest{
		Kind:         domain.JobKindPitchShift,
		Input:        input,
		Semitones:    req.Semitones,
		OutputFormat: domain.OutputFormat(req.OutputFormat),
		OutputPath:   outputPath,
	})
}

// SubmitDownload validates the URL against the host allow-list and
// enqueues one download job. A rejected URL never reaches a process.
func (a *App) SubmitDownload(req DownloadRequest) (string, error) {
	rawURL := strings.TrimSpace(req.URL)
	settings := a.currentSettings()

	if err := convert.ValidateDownloadURL(rawURL, settings.AllowedHosts); err != nil {
		return "", err
	}

	return a.Scheduler.Submit(domain.JobRequest{
		Kind:      domain.JobKindDownload,
		Input:     rawURL,
		OutputDir: settings.DownloadDir,
	})
}

// GetJobStatus returns a snapshot of one job.
func (a *App) GetJobStatus(id string) (domain.Job, error) {
	return a.Scheduler.Status(id)
}

// ListJobs returns all tracked jobs in submission order.
func (a *App) ListJobs() []domain.Job {
	return a.Scheduler.List()
}

// CancelJob cancels a queued or running job.
func (a *App) CancelJob(id string) error {
	return a.Scheduler.Cancel(id)
}

// AcknowledgeJob removes a finished job from the tracked set.
func (a *App) AcknowledgeJob(id string) error {
	return a.Scheduler.Acknowledge(id)
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	return a.refreshDiagnosticsFromSettings(settings), nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, invalidates cached tool
// resolutions, and refreshes diagnostics. A changed parallelism limit
// applies on next launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(trimSettings(settings))
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.settings = normalized
	a.mu.Unlock()

	if a.Locator != nil {
		a.Locator.Invalidate()
	}
	if a.checker != nil {
		report := a.checker.Run(normalized)
		a.mu.Lock()
		a.diagnostics = report
		a.mu.Unlock()
	}

	return normalized, nil
}

// PickInputFile opens a native file dialog for audio selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio file",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputFile opens a native save dialog for the converted file.
func (a *App) PickOutputFile(defaultName string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Save converted file",
		DefaultFilename: strings.TrimSpace(defaultName),
		Filters:         audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.currentSettings().OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// emitEvent pushes one scheduler event to the UI over the runtime bridge.
func (a *App) emitEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx == nil {
		return
	}

	switch event.Type {
	case jobs.EventTypeProgress:
		wailsruntime.EventsEmit(ctx, "job:progress", event)
	case jobs.EventTypeCompleted:
		wailsruntime.EventsEmit(ctx, "job:completed", event)
	default:
		wailsruntime.EventsEmit(ctx, "job:status", event)
	}
}

// currentSettings returns a copy of the in-memory settings.
func (a *App) currentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// defaultOutputPath derives an output file name that encodes the shift,
// such as song_+3st.mp3.
func defaultOutputPath(outputDir, input string, semitones int, format string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name := fmt.Sprintf("%s_%+dst.%s", base, semitones, format)
	return filepath.Join(outputDir, name)
}

// trimSettings strips surrounding whitespace from user-entered paths.
func trimSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.DownloadDir = strings.TrimSpace(settings.DownloadDir)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.FFprobePath = strings.TrimSpace(settings.FFprobePath)
	settings.YtdlpPath = strings.TrimSpace(settings.YtdlpPath)

	hosts := make([]string, 0, len(settings.AllowedHosts))
	for _, host := range settings.AllowedHosts {
		if trimmed := strings.TrimSpace(host); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	settings.AllowedHosts = hosts
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
