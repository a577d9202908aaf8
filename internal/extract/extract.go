// Package extract resolves video-host URLs into playable stream references
// by driving yt-dlp as a subprocess.
package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"unfurl/internal/httputil"
	"unfurl/internal/media"
)

// Format selectors and print templates handed to yt-dlp.
const (
	muxedFormat    = "best[ext=mp4]/best"
	mergeFormat    = "bestvideo+bestaudio/best"
	metadataFormat = "%(title)s|%(thumbnail)s"
)

// Extractor implements the video extraction adapter.
type Extractor struct {
	probe    Runner // stream and metadata probes
	merge    Runner // download-and-merge fallback, usually with a longer timeout
	tempDir  string
	fallback *OpenGraph
}

// New creates an Extractor. Merged fallback files are written to tempDir.
func New(probe, merge Runner, tempDir string) *Extractor {
	return &Extractor{probe: probe, merge: merge, tempDir: tempDir}
}

// WithMetadataFallback enables OpenGraph scraping when yt-dlp reports no title.
func (e *Extractor) WithMetadataFallback(og *OpenGraph) *Extractor {
	e.fallback = og
	return e
}

// Extract resolves url for the given video host. It never fails: extraction
// problems show up as a nil StreamURL and empty metadata fields.
func (e *Extractor) Extract(ctx context.Context, url string, kind media.SourceKind) media.VideoResolution {
	// only well-formed https URLs ever reach the yt-dlp command line
	if err := httputil.ValidateURL(url); err != nil {
		log.WithError(err).WithField("url", url).Warn("rejected video url")
		return media.VideoResolution{SourceType: kind, OriginURL: url}
	}

	var (
		stream, localFile string
		title, thumbnail  string
	)

	// stream and metadata are independent; neither waits on the other's outcome
	var g errgroup.Group
	g.Go(func() error {
		switch kind {
		case media.VideoHostA:
			stream, localFile = e.muxedStream(ctx, url)
		default:
			stream = e.directStream(ctx, url)
		}
		return nil
	})
	g.Go(func() error {
		title, thumbnail = e.metadata(ctx, url)
		return nil
	})
	_ = g.Wait()

	res := media.VideoResolution{
		SourceType: kind,
		OriginURL:  url,
		Title:      title,
		Thumbnail:  thumbnail,
		LocalFile:  localFile,
	}
	if stream != "" {
		res.StreamURL = &stream
	}

	log.WithFields(log.Fields{
		"url":    url,
		"kind":   kind,
		"stream": stream != "",
		"local":  localFile != "",
		"title":  title,
	}).Info("video resolved")

	return res
}

// muxedStream asks for a single muxed stream and falls back to merging
// separate audio/video into a temp file when none is offered.
func (e *Extractor) muxedStream(ctx context.Context, url string) (stream, localFile string) {
	out, err := e.probe.Run(ctx, "-f", muxedFormat, "--no-playlist", "-g", "--", url)
	if first, ok := firstStreamURL(out); ok {
		return first, ""
	}
	if err != nil {
		log.WithError(err).WithField("url", url).Debug("muxed stream probe failed")
		if errors.Is(err, media.ErrUpstreamUnavailable) || ctx.Err() != nil {
			return "", ""
		}
	}

	name := uuid.NewString() + ".mp4"
	path := filepath.Join(e.tempDir, name)
	if _, err := e.merge.Run(ctx,
		"-f", mergeFormat,
		"--no-playlist",
		"--merge-output-format", "mp4",
		"-o", path,
		"--", url,
	); err != nil {
		log.WithError(err).WithField("url", url).Warn("merge download failed")
	}

	// best effort: the file either exists or the stream is reported missing
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return media.VideoTempPathPrefix + name, name
	}
	return "", ""
}

// directStream asks for a direct stream URL with no fallback.
func (e *Extractor) directStream(ctx context.Context, url string) string {
	out, err := e.probe.Run(ctx, "-g", "--", url)
	if err != nil {
		log.WithError(err).WithField("url", url).Debug("direct stream probe failed")
	}
	first, _ := firstStreamURL(out)
	return first
}

// metadata fetches title and thumbnail with a separate metadata-only invocation.
func (e *Extractor) metadata(ctx context.Context, url string) (title, thumbnail string) {
	out, err := e.probe.Run(ctx, "--skip-download", "--no-playlist", "--print", metadataFormat, "--", url)
	if err != nil {
		log.WithError(err).WithField("url", url).Debug("metadata probe failed")
	}
	title, thumbnail = parseMetadata(out)

	if title == "" && e.fallback != nil {
		ogTitle, ogImage, err := e.fallback.Lookup(ctx, url)
		if err != nil {
			log.WithError(err).WithField("url", url).Debug("opengraph fallback failed")
			return title, thumbnail
		}
		title = ogTitle
		if thumbnail == "" {
			thumbnail = ogImage
		}
	}
	return title, thumbnail
}

// streamURLs returns the candidate stream URLs in output order.
func streamURLs(out string) []string {
	lines := lo.Map(strings.Split(out, "\n"), func(line string, _ int) string {
		return strings.TrimSpace(line)
	})
	return lo.Filter(lines, func(line string, _ int) bool {
		return strings.HasPrefix(line, "http")
	})
}

// firstStreamURL picks the first candidate line.
func firstStreamURL(out string) (string, bool) {
	return lo.Find(streamURLs(out), func(string) bool { return true })
}

// parseMetadata splits the "title|thumbnail" line. The thumbnail is taken
// after the last separator so titles containing "|" survive intact.
func parseMetadata(out string) (title, thumbnail string) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)

	idx := strings.LastIndex(line, "|")
	if idx < 0 {
		return placeholder(line), ""
	}
	return placeholder(strings.TrimSpace(line[:idx])), placeholder(strings.TrimSpace(line[idx+1:]))
}

// placeholder maps yt-dlp's "NA" marker for missing fields to empty.
func placeholder(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}
