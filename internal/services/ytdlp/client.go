package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"spool/internal/config"
	"spool/internal/services"
)

var commandContext = exec.CommandContext

// progressPrefix tags machine-readable progress lines on stdout.
const progressPrefix = "spool-progress"

// Progress captures one incremental download update from yt-dlp.
type Progress struct {
	Percent float64
	Speed   string
}

// Metadata describes the extracted content.
type Metadata struct {
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	Uploader        string
}

// Result is the outcome of a successful extraction.
type Result struct {
	AudioPath string
	Metadata  Metadata
}

// SearchResult is one entry from a metadata-only catalog search.
type SearchResult struct {
	VideoID         string
	Title           string
	Uploader        string
	ThumbnailURL    string
	URL             string
	DurationSeconds int
}

// Client defines the extraction engine boundary. Implementations are
// blocking, possibly slow, and possibly failing; callers make no retry
// assumptions.
type Client interface {
	Extract(ctx context.Context, sourceURL, destDir string, progress func(Progress)) (*Result, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Version(ctx context.Context) (string, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithAudioFormat overrides the target audio container/codec.
func WithAudioFormat(format string) Option {
	return func(c *CLI) {
		if format != "" {
			c.audioFormat = format
		}
	}
}

// WithAudioQuality overrides the target audio quality.
func WithAudioQuality(quality string) Option {
	return func(c *CLI) {
		if quality != "" {
			c.audioQuality = quality
		}
	}
}

// CLI wraps the yt-dlp command-line extractor.
type CLI struct {
	binary       string
	audioFormat  string
	audioQuality string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp", audioFormat: "mp3", audioQuality: "192K"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// NewFromConfig constructs a CLI client from application configuration.
func NewFromConfig(cfg *config.Config) *CLI {
	if cfg == nil {
		return NewCLI()
	}
	return NewCLI(
		WithBinary(cfg.Extraction.Binary),
		WithAudioFormat(cfg.Extraction.AudioFormat),
		WithAudioQuality(cfg.Extraction.AudioQuality),
	)
}

// Extract downloads the source URL into destDir and converts it to the
// configured audio format. Incremental download progress is reported through
// the optional callback with raw 0-100 percentages.
func (c *CLI) Extract(ctx context.Context, sourceURL, destDir string, progress func(Progress)) (*Result, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, errors.New("source url required")
	}
	if strings.TrimSpace(destDir) == "" {
		return nil, errors.New("destination directory required")
	}

	fileID := uuid.NewString()
	template := filepath.Join(destDir, fileID+".%(ext)s")

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--socket-timeout", "30",
		"-f", "bestaudio/best",
		"--extract-audio",
		"--audio-format", c.audioFormat,
		"--audio-quality", c.audioQuality,
		"--output", template,
		"--print-json",
		"--progress-template",
		"download:" + progressPrefix + " %(progress._percent_str)s %(progress._speed_str)s",
		sourceURL,
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrEngineFailure, "ytdlp", "extract", "start "+c.binary, err)
	}

	var meta Metadata
	sawMetadata := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, progressPrefix):
			if progress == nil {
				continue
			}
			if update, ok := parseProgressLine(line); ok {
				progress(update)
			}
		case strings.HasPrefix(line, "{"):
			var payload infoPayload
			if err := json.Unmarshal([]byte(line), &payload); err != nil {
				continue
			}
			meta = payload.metadata()
			sawMetadata = true
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("read yt-dlp output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return nil, services.Wrap(services.ErrEngineFailure, "ytdlp", "extract", engineMessage(&stderr), err)
	}

	audioPath, err := locateOutput(destDir, fileID, c.audioFormat)
	if err != nil {
		return nil, err
	}
	if !sawMetadata {
		meta.Title = fileID
	}
	return &Result{AudioPath: audioPath, Metadata: meta}, nil
}

// Search performs a metadata-only catalog search; nothing is downloaded.
func (c *CLI) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query required")
	}
	if limit <= 0 {
		limit = 10
	}

	args := []string{
		"--dump-json",
		"--flat-playlist",
		"--no-warnings",
		fmt.Sprintf("ytsearch%d:%s", limit, query),
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, services.Wrap(services.ErrEngineFailure, "ytdlp", "search", engineMessage(&stderr), err)
	}

	var results []SearchResult
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var entry searchPayload
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.ID == "" {
			continue
		}
		results = append(results, entry.result())
	}
	return results, scanner.Err()
}

// Version reports the installed yt-dlp version.
func (c *CLI) Version(ctx context.Context) (string, error) {
	cmd := commandContext(ctx, c.binary, "--version") //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func parseProgressLine(line string) (Progress, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, progressPrefix))
	if len(fields) == 0 {
		return Progress{}, false
	}
	percentText := strings.TrimSuffix(strings.TrimSpace(fields[0]), "%")
	percent, err := strconv.ParseFloat(percentText, 64)
	if err != nil {
		return Progress{}, false
	}
	update := Progress{Percent: percent}
	if len(fields) > 1 && fields[1] != "N/A" && fields[1] != "Unknown" {
		update.Speed = fields[1]
	}
	return update, true
}

func locateOutput(destDir, fileID, preferredExt string) (string, error) {
	expected := filepath.Join(destDir, fileID+"."+preferredExt)
	if info, err := os.Stat(expected); err == nil && info.Size() > 0 {
		return expected, nil
	}
	// Post-processing can leave a different container behind.
	for _, ext := range []string{"mp3", "m4a", "opus", "ogg", "webm", "flac", "wav"} {
		alt := filepath.Join(destDir, fileID+"."+ext)
		if info, err := os.Stat(alt); err == nil && info.Size() > 0 {
			return alt, nil
		}
	}
	return "", services.Wrap(services.ErrEngineFailure, "ytdlp", "extract", "no output file produced", nil)
}

func engineMessage(stderr *bytes.Buffer) string {
	text := strings.TrimSpace(stderr.String())
	if text == "" {
		return "engine exited with error"
	}
	lines := strings.Split(text, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "engine exited with error"
	}
	return last
}

type infoPayload struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
}

func (p infoPayload) metadata() Metadata {
	uploader := p.Uploader
	if uploader == "" {
		uploader = p.Channel
	}
	return Metadata{
		Title:           p.Title,
		DurationSeconds: int(p.Duration),
		ThumbnailURL:    p.Thumbnail,
		Uploader:        uploader,
	}
}

type searchPayload struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
	Thumbnail string  `json:"thumbnail"`
	URL       string  `json:"url"`
	Duration  float64 `json:"duration"`
}

func (p searchPayload) result() SearchResult {
	uploader := p.Uploader
	if uploader == "" {
		uploader = p.Channel
	}
	thumbnail := p.Thumbnail
	if thumbnail == "" {
		thumbnail = fmt.Sprintf("https://img.youtube.com/vi/%s/mqdefault.jpg", p.ID)
	}
	pageURL := p.URL
	if pageURL == "" {
		pageURL = "https://www.youtube.com/watch?v=" + p.ID
	}
	return SearchResult{
		VideoID:         p.ID,
		Title:           p.Title,
		Uploader:        uploader,
		ThumbnailURL:    thumbnail,
		URL:             pageURL,
		DurationSeconds: int(p.Duration),
	}
}

var _ Client = (*CLI)(nil)
