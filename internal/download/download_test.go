package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/social"
)

type mediaHost struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newMediaHost(t *testing.T) *mediaHost {
	t.Helper()
	h := &mediaHost{}
	h.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		switch r.URL.Path {
		case "/p.jpg":
			w.Write([]byte("jpeg-bytes"))
		case "/v.mp4":
			w.Write([]byte("mp4-bytes"))
		case "/big.mp4":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func newMaterializer(t *testing.T, h *mediaHost, maxBytes int64) *Materializer {
	t.Helper()
	m, err := New(t.TempDir(), h.srv.Client(), maxBytes, 5*time.Second)
	require.NoError(t, err)
	return m
}

func TestMaterializeDownloadsOnce(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	post := &social.Post{ID: "55", Media: []social.Media{
		{Kind: "photo", URL: h.srv.URL + "/p.jpg"},
		{Kind: "video", URL: h.srv.URL + "/v.mp4"},
		{Kind: "animated_gif", URL: h.srv.URL + "/v.mp4"},
	}}

	refs := m.Materialize(context.Background(), post)
	assert.Equal(t, []string{
		"/media/55_photo_0.jpg",
		"/media/55_video_1.mp4",
		"/media/55_animated_gif_2.mp4",
	}, refs)
	assert.Equal(t, int32(3), h.hits.Load())

	data, err := os.ReadFile(filepath.Join(m.Dir(), "55_photo_0.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	again := m.Materialize(context.Background(), post)
	assert.Equal(t, refs, again)
	assert.Equal(t, int32(3), h.hits.Load(), "second call must not download")
	assert.Equal(t, Stats{Downloaded: 3, Reused: 3}, m.Stats())
}

func TestMaterializeOmitsFailedItems(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	post := &social.Post{ID: "9", Media: []social.Media{
		{Kind: "photo", URL: h.srv.URL + "/p.jpg"},
		{Kind: "photo", URL: h.srv.URL + "/missing.jpg"},
		{Kind: "video", URL: ""},
		{Kind: "photo", URL: h.srv.URL + "/p.jpg"},
	}}

	refs := m.Materialize(context.Background(), post)
	assert.Equal(t, []string{"/media/9_photo_0.jpg", "/media/9_photo_3.jpg"}, refs)
	assert.Equal(t, int64(2), m.Stats().Failed)
	assert.NoFileExists(t, filepath.Join(m.Dir(), "9_photo_1.jpg"))
}

func TestMaterializeSkipsUnknownKindsKeepingIndex(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	post := &social.Post{ID: "4", Media: []social.Media{
		{Kind: "sticker", URL: h.srv.URL + "/p.jpg"},
		{Kind: "photo", URL: h.srv.URL + "/p.jpg"},
	}}

	refs := m.Materialize(context.Background(), post)
	assert.Equal(t, []string{"/media/4_photo_1.jpg"}, refs)
	assert.Equal(t, int32(1), h.hits.Load())
}

func TestMaterializeNoMedia(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)

	for _, post := range []*social.Post{nil, {ID: "1"}, {ID: "1", Media: []social.Media{}}} {
		refs := m.Materialize(context.Background(), post)
		assert.NotNil(t, refs)
		assert.Empty(t, refs)
	}
	assert.Zero(t, h.hits.Load())
}

func TestMaterializeSizeCap(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 16)
	post := &social.Post{ID: "2", Media: []social.Media{{Kind: "video", URL: h.srv.URL + "/big.mp4"}}}

	assert.Empty(t, m.Materialize(context.Background(), post))
	assert.NoFileExists(t, filepath.Join(m.Dir(), "2_video_0.mp4"))

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "partial files are cleaned up")
}

func TestMaterializeRejectsPlainHTTP(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	post := &social.Post{ID: "3", Media: []social.Media{{Kind: "photo", URL: "http://example.com/p.jpg"}}}

	assert.Empty(t, m.Materialize(context.Background(), post))
	assert.Equal(t, int64(1), m.Stats().Failed)
}

func TestMaterializeRejectsUnsafePostID(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	post := &social.Post{ID: "../../etc", Media: []social.Media{{Kind: "photo", URL: h.srv.URL + "/p.jpg"}}}

	assert.Empty(t, m.Materialize(context.Background(), post))
	assert.Zero(t, h.hits.Load())
}

func TestMaterializeSkipsPostWithoutID(t *testing.T) {
	h := newMediaHost(t)
	m := newMaterializer(t, h, 1<<20)
	first := &social.Post{Media: []social.Media{{Kind: "photo", URL: h.srv.URL + "/p.jpg"}}}
	second := &social.Post{Media: []social.Media{{Kind: "photo", URL: h.srv.URL + "/v.mp4"}}}

	assert.Equal(t, []string{}, m.Materialize(context.Background(), first))
	assert.Equal(t, []string{}, m.Materialize(context.Background(), second))
	assert.Zero(t, h.hits.Load())
	assert.NoFileExists(t, filepath.Join(m.Dir(), "_photo_0.jpg"))
	assert.Equal(t, Stats{}, m.Stats())
}
