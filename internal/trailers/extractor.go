package trailers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// MetadataExtractor learns playable-stream facts about a video without
// downloading it.
type MetadataExtractor interface {
	Extract(ctx context.Context, sourceURL string) (*Extraction, error)
}

// YTDLPExtractor shells out to yt-dlp with -J to dump video metadata as JSON.
type YTDLPExtractor struct {
	binary  string
	timeout time.Duration
}

var _ MetadataExtractor = (*YTDLPExtractor)(nil)

// NewYTDLPExtractor builds an extractor around the given binary name or path.
func NewYTDLPExtractor(binary string, timeout time.Duration) *YTDLPExtractor {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &YTDLPExtractor{binary: binary, timeout: timeout}
}

// CheckBinary verifies the extractor binary is installed.
func (e *YTDLPExtractor) CheckBinary() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", e.binary)
	}
	return nil
}

type ytdlpFormat struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Filesize int64   `json:"filesize"`
	TBR      float64 `json:"tbr"`
	VCodec   string  `json:"vcodec"`
}

type ytdlpDump struct {
	Title     string        `json:"title"`
	Duration  float64       `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Formats   []ytdlpFormat `json:"formats"`
}

// Extract implements MetadataExtractor.
func (e *YTDLPExtractor) Extract(ctx context.Context, sourceURL string) (*Extraction, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, errors.New("source url required")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, "-J", "--no-download", "--no-playlist", sourceURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyExtractorError(err, stderr.String())
	}

	var dump ytdlpDump
	if err := json.Unmarshal(stdout.Bytes(), &dump); err != nil {
		return nil, fmt.Errorf("parse extractor output: %w", err)
	}
	return buildExtraction(dump), nil
}

func buildExtraction(dump ytdlpDump) *Extraction {
	ex := &Extraction{
		Title:           dump.Title,
		DurationSeconds: int(dump.Duration),
		ThumbnailURL:    dump.Thumbnail,
	}
	for _, f := range dump.Formats {
		if f.VCodec == "none" || f.Width <= 0 || f.Height <= 0 {
			continue
		}
		if f.Width*f.Height > ex.BestWidth*ex.BestHeight {
			ex.BestWidth = f.Width
			ex.BestHeight = f.Height
			ex.EstimatedBytes = estimateSize(f, dump.Duration)
		}
	}
	return ex
}

// estimateSize prefers the reported filesize and falls back to total bitrate
// times duration.
func estimateSize(f ytdlpFormat, duration float64) int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	if f.TBR > 0 && duration > 0 {
		// tbr is in KBit/s.
		return int64(f.TBR * 1000 / 8 * duration)
	}
	return 0
}

// classifyExtractorError maps yt-dlp failures onto the trailer sentinels so
// the analyzer can route them through the state machine.
func classifyExtractorError(err error, stderr string) error {
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "429") || strings.Contains(lowered, "rate-limit") || strings.Contains(lowered, "too many requests"):
		return fmt.Errorf("%w: %s", ErrRateLimited, firstLine(stderr))
	case strings.Contains(lowered, "video unavailable") || strings.Contains(lowered, "private video") || strings.Contains(lowered, "this video is not available"):
		return fmt.Errorf("%w: %s", ErrUnavailable, firstLine(stderr))
	default:
		if stderr != "" {
			return fmt.Errorf("extractor failed: %s: %w", firstLine(stderr), err)
		}
		return fmt.Errorf("extractor failed: %w", err)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
