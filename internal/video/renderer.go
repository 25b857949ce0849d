// Package video renders narrated slide videos with ffmpeg: a coloured
// background, a title card and the transcript split into timed sections.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/tts/text"
	"github.com/book-expert/logger"
)

const (
	defaultFFmpegPath   = "ffmpeg"
	defaultFFprobePath  = "ffprobe"
	defaultWidth        = 1280
	defaultHeight       = 720
	defaultFPS          = 30
	defaultBitrate      = "2M"
	defaultSectionChars = 300
	defaultTitleSeconds = 3.0
	thumbnailWidth      = 320
	audioBitrate        = "128k"
	charWidthRatio      = 0.55
	lineSpacing         = 12

	audioFileName     = "narration.mp3"
	videoFileName     = "lecture.mp4"
	thumbnailFileName = "thumbnail.jpg"
	titleFileName     = "title.txt"
	workDirPattern    = "lecture-render-*"
	filePermissions   = 0o600
)

var (
	// ErrEmptyAudio is returned when there is no audio to narrate the video with.
	ErrEmptyAudio = errors.New("audio is empty")
	// ErrInvalidDuration is returned when ffprobe reports no usable duration.
	ErrInvalidDuration = errors.New("audio duration is not positive")
	// ErrMissingOutput is returned when ffmpeg exits cleanly but wrote nothing.
	ErrMissingOutput = errors.New("ffmpeg produced no output")
)

// CommandResult is the captured output of an external command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		result.ExitCode = -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}

		return result, err
	}

	return result, nil
}

// Config holds the rendering parameters.
type Config struct {
	FFmpegPath   string
	FFprobePath  string
	Width        int
	Height       int
	FPS          int
	Bitrate      string
	FontFile     string
	SectionChars int
	TitleSeconds float64
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = defaultFFmpegPath
	}

	if c.FFprobePath == "" {
		c.FFprobePath = defaultFFprobePath
	}

	if c.Width <= 0 {
		c.Width = defaultWidth
	}

	if c.Height <= 0 {
		c.Height = defaultHeight
	}

	if c.FPS <= 0 {
		c.FPS = defaultFPS
	}

	if c.Bitrate == "" {
		c.Bitrate = defaultBitrate
	}

	if c.SectionChars <= 0 {
		c.SectionChars = defaultSectionChars
	}

	if c.TitleSeconds <= 0 {
		c.TitleSeconds = defaultTitleSeconds
	}

	return c
}

// Renderer implements core.VideoRenderer on top of ffmpeg and ffprobe.
type Renderer struct {
	cfg    Config
	runner CommandRunner
	log    *logger.Logger
}

// NewRenderer builds a renderer. A nil runner uses ExecRunner.
func NewRenderer(cfg Config, runner CommandRunner, log *logger.Logger) *Renderer {
	if runner == nil {
		runner = ExecRunner{}
	}

	return &Renderer{cfg: cfg.withDefaults(), runner: runner, log: log}
}

// section is a block of transcript shown between start and end seconds.
type section struct {
	file  string
	start float64
	end   float64
}

// Render writes the audio to a scratch directory, lays the transcript out over
// its duration and encodes the video. A thumbnail is grabbed best-effort.
func (r *Renderer) Render(ctx context.Context, req core.RenderRequest) (*core.RenderOutput, error) {
	if len(req.Audio) == 0 {
		return nil, &core.RenderError{Err: ErrEmptyAudio}
	}

	workDir, cleanup, err := r.workDir(req.WorkDir)
	if err != nil {
		return nil, &core.RenderError{Err: err}
	}
	defer cleanup()

	audioPath := filepath.Join(workDir, audioFileName)

	err = os.WriteFile(audioPath, req.Audio, filePermissions)
	if err != nil {
		return nil, &core.RenderError{Err: fmt.Errorf("failed to write audio: %w", err)}
	}

	duration, err := r.probeDuration(ctx, audioPath)
	if err != nil {
		return nil, &core.RenderError{Err: err}
	}

	style, known := LookupStyle(req.Style.Style)
	if !known {
		r.log.Warn("Unknown video style %q, using %s", req.Style.Style, style.Name)
	}

	filter, err := r.buildFilter(workDir, req, style, duration)
	if err != nil {
		return nil, &core.RenderError{Err: err}
	}

	videoPath := filepath.Join(workDir, videoFileName)

	err = r.run(ctx, r.cfg.FFmpegPath, r.encodeArgs(style, duration, audioPath, filter, videoPath)...)
	if err != nil {
		return nil, &core.RenderError{Err: err}
	}

	video, err := os.ReadFile(videoPath)
	if err != nil || len(video) == 0 {
		return nil, &core.RenderError{Err: ErrMissingOutput}
	}

	return &core.RenderOutput{
		Video:     video,
		Thumbnail: r.thumbnail(ctx, workDir, videoPath, duration),
		Duration:  duration,
	}, nil
}

func (r *Renderer) workDir(requested string) (string, func(), error) {
	if requested != "" {
		err := os.MkdirAll(requested, 0o755)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create work dir: %w", err)
		}

		return requested, func() {}, nil
	}

	dir, err := os.MkdirTemp("", workDirPattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temporary workspace: %w", err)
	}

	return dir, func() {
		removeErr := os.RemoveAll(dir)
		if removeErr != nil {
			r.log.Warn("Failed to remove render workspace %s: %v", dir, removeErr)
		}
	}, nil
}

func (r *Renderer) probeDuration(ctx context.Context, audioPath string) (float64, error) {
	result, err := r.runner.Run(ctx, r.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	)
	if err != nil {
		return 0, commandError(r.cfg.FFprobePath, result, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse audio duration %q: %w", result.Stdout, err)
	}

	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, ErrInvalidDuration
	}

	return duration, nil
}

// buildFilter writes the title and sections to text files and chains one
// drawtext filter per block, each enabled over its time window.
func (r *Renderer) buildFilter(workDir string, req core.RenderRequest, style Style, duration float64) (string, error) {
	var drawtexts []string

	bodyStart := 0.0

	if req.Title != "" && duration > r.cfg.TitleSeconds {
		titlePath := filepath.Join(workDir, titleFileName)

		err := os.WriteFile(titlePath, []byte(wrapLines(req.Title, r.charsPerLine(style, style.TitleFontSize))), filePermissions)
		if err != nil {
			return "", fmt.Errorf("failed to write title: %w", err)
		}

		bodyStart = r.cfg.TitleSeconds
		drawtexts = append(drawtexts, r.drawtext(titlePath, style.AccentColor, style.TitleFontSize, style.Padding, 0, bodyStart))
	}

	sections, err := r.writeSections(workDir, req.Text, style, bodyStart, duration)
	if err != nil {
		return "", err
	}

	for _, s := range sections {
		drawtexts = append(drawtexts, r.drawtext(s.file, style.TextColor, style.BodyFontSize, style.Padding, s.start, s.end))
	}

	if len(drawtexts) == 0 {
		return "[0:v]null[v]", nil
	}

	return "[0:v]" + strings.Join(drawtexts, ",") + "[v]", nil
}

func (r *Renderer) writeSections(workDir, transcript string, style Style, start, end float64) ([]section, error) {
	chunks := text.Chunk(transcript, r.cfg.SectionChars)
	if len(chunks) == 0 {
		return nil, nil
	}

	perSection := (end - start) / float64(len(chunks))
	width := r.charsPerLine(style, style.BodyFontSize)
	sections := make([]section, 0, len(chunks))

	for i, chunk := range chunks {
		path := filepath.Join(workDir, fmt.Sprintf("section-%03d.txt", i+1))

		err := os.WriteFile(path, []byte(wrapLines(chunk, width)), filePermissions)
		if err != nil {
			return nil, fmt.Errorf("failed to write section %d: %w", i+1, err)
		}

		sectionEnd := start + perSection*float64(i+1)
		if i == len(chunks)-1 {
			sectionEnd = end
		}

		sections = append(sections, section{file: path, start: start + perSection*float64(i), end: sectionEnd})
	}

	return sections, nil
}

// drawtext shows textFile between start and end. Expansion is off so % and \ in the
// transcript are drawn verbatim.
func (r *Renderer) drawtext(textFile, color string, fontSize, padding int, start, end float64) string {
	options := []string{
		"textfile='" + escapeFilterValue(textFile) + "'",
		"expansion=none",
		"fontcolor=" + color,
		"fontsize=" + strconv.Itoa(fontSize),
		"line_spacing=" + strconv.Itoa(lineSpacing),
		"x=" + strconv.Itoa(padding),
		"y=(h-text_h)/2",
		fmt.Sprintf("enable='between(t,%.2f,%.2f)'", start, end),
	}

	if r.cfg.FontFile != "" {
		options = append(options, "fontfile='"+escapeFilterValue(r.cfg.FontFile)+"'")
	}

	return "drawtext=" + strings.Join(options, ":")
}

func (r *Renderer) encodeArgs(style Style, duration float64, audioPath, filter, videoPath string) []string {
	background := fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%.3f",
		style.Background, r.cfg.Width, r.cfg.Height, r.cfg.FPS, duration)

	return []string{
		"-y",
		"-f", "lavfi", "-i", background,
		"-i", audioPath,
		"-filter_complex", filter,
		"-map", "[v]", "-map", "1:a",
		"-c:v", "libx264", "-b:v", r.cfg.Bitrate, "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", audioBitrate,
		"-shortest",
		videoPath,
	}
}

// thumbnail grabs one frame from the rendered video. Failure leaves it empty.
func (r *Renderer) thumbnail(ctx context.Context, workDir, videoPath string, duration float64) []byte {
	thumbPath := filepath.Join(workDir, thumbnailFileName)
	at := math.Min(r.cfg.TitleSeconds+1, duration/2)

	err := r.run(ctx, r.cfg.FFmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(at, 'f', 2, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", thumbnailWidth),
		thumbPath,
	)
	if err != nil {
		r.log.Warn("Thumbnail extraction failed: %v", err)

		return nil
	}

	data, err := os.ReadFile(thumbPath)
	if err != nil {
		r.log.Warn("Thumbnail missing after extraction: %v", err)

		return nil
	}

	return data
}

func (r *Renderer) run(ctx context.Context, name string, args ...string) error {
	result, err := r.runner.Run(ctx, name, args...)
	if err != nil {
		return commandError(name, result, err)
	}

	return nil
}

func (r *Renderer) charsPerLine(style Style, fontSize int) int {
	usable := float64(r.cfg.Width - 2*style.Padding)

	chars := int(usable / (float64(fontSize) * charWidthRatio))
	if chars < 1 {
		return 1
	}

	return chars
}

func commandError(name string, result CommandResult, err error) error {
	stderr := strings.TrimSpace(result.Stderr)
	if stderr == "" {
		return fmt.Errorf("%s exited with code %d: %w", name, result.ExitCode, err)
	}

	return fmt.Errorf("%s exited with code %d: %s: %w", name, result.ExitCode, lastLine(stderr), err)
}

func lastLine(output string) string {
	index := strings.LastIndexByte(output, '\n')
	if index < 0 {
		return output
	}

	return output[index+1:]
}

// wrapLines breaks text on word boundaries into lines of at most width characters.
// Words longer than width get a line of their own.
func wrapLines(input string, width int) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return ""
	}

	var (
		lines   []string
		current strings.Builder
	)

	for _, word := range words {
		if current.Len() > 0 && current.Len()+1+len(word) > width {
			lines = append(lines, current.String())
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteByte(' ')
		}

		current.WriteString(word)
	}

	lines = append(lines, current.String())

	return strings.Join(lines, "\n")
}

// escapeFilterValue escapes characters with meaning inside a quoted ffmpeg filter option.
func escapeFilterValue(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`)

	return replacer.Replace(value)
}
