// Package download materializes post media into a local directory.
// Each asset is stored under a name derived from its post, kind and
// position, so an asset that already exists on disk is never fetched again.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"unfurl/internal/httputil"
	"unfurl/internal/media"
	"unfurl/internal/social"
)

// Stats counts materialization outcomes since the Materializer was created.
type Stats struct {
	Downloaded int64
	Reused     int64
	Failed     int64
}

// Materializer downloads post media into dir.
type Materializer struct {
	dir      string
	client   *http.Client
	maxBytes int64
	timeout  time.Duration

	downloaded atomic.Int64
	reused     atomic.Int64
	failed     atomic.Int64
}

// New creates a Materializer storing files in dir, which is created if needed.
func New(dir string, client *http.Client, maxBytes int64, timeout time.Duration) (*Materializer, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving media directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	if client == nil {
		client = httputil.NewClient(timeout)
	}
	return &Materializer{
		dir:      absDir,
		client:   client,
		maxBytes: maxBytes,
		timeout:  timeout,
	}, nil
}

// Dir returns the absolute media directory.
func (m *Materializer) Dir() string {
	return m.dir
}

// Stats returns a snapshot of the outcome counters.
func (m *Materializer) Stats() Stats {
	return Stats{
		Downloaded: m.downloaded.Load(),
		Reused:     m.reused.Load(),
		Failed:     m.failed.Load(),
	}
}

// Materialize makes every recognized media item of post available locally
// and returns their public references in upstream order. Items of unknown
// kind are skipped without shifting the index of later items; items that
// fail to download are logged and omitted. A post without an id gets no
// media at all.
func (m *Materializer) Materialize(ctx context.Context, post *social.Post) []string {
	if !social.HasRealMedia(post) {
		return []string{}
	}
	// asset names are keyed by post id; without one, posts would share files
	if post.ID == "" {
		log.WithFields(log.Fields{"media": len(post.Media)}).Warn("skipping media of post without id")
		return []string{}
	}

	refs := make([]string, len(post.Media))
	var g errgroup.Group
	for i, item := range post.Media {
		kind, ok := media.ParseKind(item.Kind)
		if !ok {
			log.WithFields(log.Fields{"post": post.ID, "index": i, "kind": item.Kind}).Debug("skipping unrecognized media")
			continue
		}
		asset := media.Asset{Kind: kind, SourcePostID: post.ID, Index: i}

		g.Go(func() error {
			if err := m.ensure(ctx, asset, item.URL); err != nil {
				m.failed.Add(1)
				log.WithFields(log.Fields{
					"asset": asset.LocalFilename(),
					"error": err,
				}).Warn("media download failed")
				return nil
			}
			refs[i] = asset.PublicRef()
			return nil
		})
	}
	_ = g.Wait()

	return lo.Compact(refs)
}

// ensure downloads asset from src unless it is already on disk.
func (m *Materializer) ensure(ctx context.Context, asset media.Asset, src string) error {
	path, err := httputil.ServablePath(m.dir, asset.LocalFilename())
	if err != nil {
		return fmt.Errorf("%w: %v", media.ErrDownloadFailed, err)
	}
	if _, err := os.Stat(path); err == nil {
		m.reused.Add(1)
		return nil
	}
	if src == "" {
		return fmt.Errorf("%w: no source url", media.ErrDownloadFailed)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := m.fetch(ctx, src, path); err != nil {
		return fmt.Errorf("%w: %v", media.ErrDownloadFailed, err)
	}

	m.downloaded.Add(1)
	log.WithFields(log.Fields{"asset": asset.LocalFilename()}).Debug("media downloaded")
	return nil
}

// fetch writes src to a temporary file next to path and renames it into
// place, so a file at path is always complete.
func (m *Materializer) fetch(ctx context.Context, src, path string) error {
	resp, err := httputil.Get(ctx, m.client, src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return fmt.Errorf("asset too large: %d bytes", resp.ContentLength)
	}

	tmp, err := os.CreateTemp(m.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, m.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing asset: %w", err)
	}
	if n > m.maxBytes {
		return fmt.Errorf("asset exceeds %d bytes", m.maxBytes)
	}

	return os.Rename(tmp.Name(), path)
}
