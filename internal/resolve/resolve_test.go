package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/classify"
	"unfurl/internal/media"
	"unfurl/internal/social"
)

type fakeVideos struct {
	calls []string
	kinds []media.SourceKind
	res   media.VideoResolution
}

func (f *fakeVideos) Extract(_ context.Context, url string, kind media.SourceKind) media.VideoResolution {
	f.calls = append(f.calls, url)
	f.kinds = append(f.kinds, kind)
	r := f.res
	r.SourceType, r.OriginURL = kind, url
	return r
}

type fakePosts struct {
	post *social.Post
	err  error
	urls []string
}

func (f *fakePosts) FetchPost(_ context.Context, url string) (*social.Post, error) {
	f.urls = append(f.urls, url)
	return f.post, f.err
}

// fakeStore names refs like the real materializer without touching disk.
type fakeStore struct {
	mu    sync.Mutex
	posts []string
}

func (f *fakeStore) Materialize(_ context.Context, p *social.Post) []string {
	f.mu.Lock()
	f.posts = append(f.posts, p.ID)
	f.mu.Unlock()

	refs := []string{}
	for i, m := range p.Media {
		if k, ok := media.ParseKind(m.Kind); ok {
			refs = append(refs, media.Asset{Kind: k, SourcePostID: p.ID, Index: i}.PublicRef())
		}
	}
	return refs
}

func newService(v *fakeVideos, p *fakePosts, s *fakeStore) *Service {
	return NewService(classify.Default(), v, p, s, 0)
}

func TestResolveSocialWithoutMedia(t *testing.T) {
	posts := &fakePosts{post: &social.Post{ID: "123", AuthorHandle: "u", Text: "hi"}}
	store := &fakeStore{}
	svc := newService(&fakeVideos{}, posts, store)

	res, err := svc.Resolve(context.Background(), "https://x.com/u/status/123")
	require.NoError(t, err)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "social", "id": "123", "authorHandle": "u", "authorAvatarUrl": "",
		"text": "hi", "createdAt": "", "likeCount": 0, "retweetCount": 0,
		"bookmarkCount": 0, "viewCount": 0, "media": [], "quoted": null
	}`, string(out))
	assert.Empty(t, store.posts, "no media work for a post without media")
}

func TestResolveSocialQuoteChain(t *testing.T) {
	root := &social.Post{ID: "1", Media: []social.Media{{Kind: "photo"}, {Kind: "video"}},
		Quote: &social.Post{ID: "2",
			Quote: &social.Post{ID: "3", Media: []social.Media{{Kind: "sticker"}, {Kind: "animated_gif"}}}}}
	store := &fakeStore{}
	svc := newService(&fakeVideos{}, &fakePosts{post: root}, store)

	res, err := svc.Resolve(context.Background(), "https://x.com/u/status/1")
	require.NoError(t, err)
	require.Equal(t, media.Social, res.Type)

	node := res.Post
	assert.Equal(t, []string{"/media/1_photo_0.jpg", "/media/1_video_1.mp4"}, node.Media)
	require.NotNil(t, node.Quoted)
	assert.Equal(t, "2", node.Quoted.ID)
	assert.Equal(t, []string{}, node.Quoted.Media)
	require.NotNil(t, node.Quoted.Quoted)
	assert.Equal(t, []string{"/media/3_animated_gif_1.mp4"}, node.Quoted.Quoted.Media)
	assert.Nil(t, node.Quoted.Quoted.Quoted)

	assert.ElementsMatch(t, []string{"1", "3"}, store.posts)
}

func TestResolveSocialDepthCutoff(t *testing.T) {
	root := &social.Post{ID: "0", Media: []social.Media{{Kind: "photo"}}}
	cur := root
	for i := 1; i <= 12; i++ {
		cur.Quote = &social.Post{ID: strconv.Itoa(i), Media: []social.Media{{Kind: "photo"}}}
		cur = cur.Quote
	}
	store := &fakeStore{}
	svc := newService(&fakeVideos{}, &fakePosts{post: root}, store)

	res, err := svc.Resolve(context.Background(), "https://x.com/u/status/0")
	require.NoError(t, err)

	depth := 0
	last := res.Post
	for last.Quoted != nil {
		last = last.Quoted
		depth++
	}
	assert.Equal(t, 10, depth)
	assert.Equal(t, "10", last.ID)
	assert.Len(t, store.posts, 11, "root plus ten quoted posts")
	assert.NotContains(t, store.posts, "11")
	assert.NotContains(t, store.posts, "12")
}

func TestResolveSocialError(t *testing.T) {
	posts := &fakePosts{err: fmt.Errorf("%w: no /status/ segment", media.ErrMalformedURL)}
	svc := newService(&fakeVideos{}, posts, &fakeStore{})

	res, err := svc.Resolve(context.Background(), "https://x.com/u")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, media.ErrMalformedURL)
}

func TestResolveVideo(t *testing.T) {
	tests := []struct {
		url  string
		kind media.SourceKind
	}{
		{"https://www.youtube.com/watch?v=abc", media.VideoHostA},
		{"https://youtu.be/abc", media.VideoHostA},
		{"https://rumble.com/v1abc-clip.html", media.VideoHostB},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			videos := &fakeVideos{res: media.VideoResolution{Title: "T"}}
			posts := &fakePosts{}
			svc := newService(videos, posts, &fakeStore{})

			res, err := svc.Resolve(context.Background(), tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Type)
			require.NotNil(t, res.Video)
			assert.Nil(t, res.Post)
			assert.Equal(t, []media.SourceKind{tt.kind}, videos.kinds)
			assert.Empty(t, posts.urls)

			out, err := json.Marshal(res)
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"type": %q, "originUrl": %q, "streamUrl": null, "title": "T", "thumbnail": ""}`, tt.kind, tt.url), string(out))
		})
	}
}

func TestResolveValuesUsesFirst(t *testing.T) {
	videos := &fakeVideos{}
	posts := &fakePosts{post: &social.Post{ID: "5"}}
	svc := newService(videos, posts, &fakeStore{})

	res, err := svc.ResolveValues(context.Background(), []string{"https://x.com/u/status/5", "https://youtu.be/x"})
	require.NoError(t, err)
	assert.Equal(t, media.Social, res.Type)
	assert.Equal(t, []string{"https://x.com/u/status/5"}, posts.urls)
	assert.Empty(t, videos.calls)
}
