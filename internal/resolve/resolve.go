// Package resolve turns an input URL into the normalized result envelope.
package resolve

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"unfurl/internal/classify"
	"unfurl/internal/media"
	"unfurl/internal/quote"
	"unfurl/internal/social"
)

// VideoExtractor resolves video-host URLs. It reports failures as empty fields.
type VideoExtractor interface {
	Extract(ctx context.Context, url string, kind media.SourceKind) media.VideoResolution
}

// PostFetcher fetches a social post together with its quote chain.
type PostFetcher interface {
	FetchPost(ctx context.Context, url string) (*social.Post, error)
}

// Materializer stores a post's media locally and returns public references.
type Materializer interface {
	Materialize(ctx context.Context, post *social.Post) []string
}

// Service dispatches URLs to the extractor or the post resolver.
type Service struct {
	classifier *classify.Classifier
	videos     VideoExtractor
	posts      PostFetcher
	store      Materializer
	maxDepth   int
}

// NewService wires a Service. A non-positive maxDepth selects quote.DefaultMaxDepth.
func NewService(c *classify.Classifier, videos VideoExtractor, posts PostFetcher, store Materializer, maxDepth int) *Service {
	if c == nil {
		c = classify.Default()
	}
	if maxDepth <= 0 {
		maxDepth = quote.DefaultMaxDepth
	}
	return &Service{
		classifier: c,
		videos:     videos,
		posts:      posts,
		store:      store,
		maxDepth:   maxDepth,
	}
}

// ResolveValues resolves the first of a possibly repeated url parameter.
func (s *Service) ResolveValues(ctx context.Context, values []string) (*media.Result, error) {
	return s.Resolve(ctx, classify.FirstValue(values))
}

// Resolve classifies rawURL and produces its result. Only post
// identification and guest session failures are returned as errors.
func (s *Service) Resolve(ctx context.Context, rawURL string) (*media.Result, error) {
	start := time.Now()
	kind := s.classifier.Classify(rawURL)
	fields := log.Fields{"url": rawURL, "type": kind}

	result := &media.Result{Type: kind}
	switch kind {
	case media.VideoHostA, media.VideoHostB:
		v := s.videos.Extract(ctx, rawURL, kind)
		result.Video = &v
		fields["stream"] = v.StreamURL != nil
	default:
		node, err := s.resolvePost(ctx, rawURL)
		if err != nil {
			log.WithFields(fields).WithError(err).Error("resolve failed")
			return nil, err
		}
		result.Post = node
		fields["quotes"] = quote.Depth(node)
	}

	fields["elapsed"] = time.Since(start).Round(time.Millisecond)
	log.WithFields(fields).Info("resolved")
	return result, nil
}

func (s *Service) resolvePost(ctx context.Context, rawURL string) (*media.PostNode, error) {
	root, err := s.posts.FetchPost(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	// the chain is fully known here, so every node's media can be fetched at once
	nodes := append([]*social.Post{root}, quote.Walk(root, s.maxDepth)...)
	refs := make([][]string, len(nodes))
	var g errgroup.Group
	for i, p := range nodes {
		if !social.HasRealMedia(p) {
			continue
		}
		g.Go(func() error {
			refs[i] = s.store.Materialize(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	byPost := make(map[*social.Post][]string, len(nodes))
	for i, p := range nodes {
		byPost[p] = refs[i]
	}
	return quote.Nest(root, s.maxDepth, func(p *social.Post) *media.PostNode {
		return toNode(p, byPost[p])
	}), nil
}

// toNode copies a post's fields into a PostNode with the given media refs.
func toNode(p *social.Post, refs []string) *media.PostNode {
	if refs == nil {
		refs = []string{}
	}
	return &media.PostNode{
		ID:              p.ID,
		AuthorHandle:    p.AuthorHandle,
		AuthorAvatarURL: p.AuthorAvatarURL,
		Text:            p.Text,
		CreatedAt:       p.CreatedAt,
		LikeCount:       p.LikeCount,
		RetweetCount:    p.RetweetCount,
		BookmarkCount:   p.BookmarkCount,
		ViewCount:       p.ViewCount,
		Media:           refs,
	}
}
