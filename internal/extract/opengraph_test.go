package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/media"
)

const videoPage = `<!doctype html>
<html><head>
<title>Fallback Title - Rumble</title>
<meta property="og:title" content="  Clip Title  ">
<meta property="og:image" content="https://sp.rmbl.ws/og.jpg">
</head><body></body></html>`

func TestParseOpenGraph(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		title   string
		image   string
		wantErr bool
	}{
		{"og tags", videoPage, "Clip Title", "https://sp.rmbl.ws/og.jpg", false},
		{"twitter name tags", `<html><head><meta name="twitter:title" content="T"><meta name="twitter:image" content="https://i/x.png"></head></html>`, "T", "https://i/x.png", false},
		{"title element only", `<html><head><title>Just Title</title></head></html>`, "Just Title", "", false},
		{"nothing", `<html><body>hi</body></html>`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)

			title, image, err := parseOpenGraph(doc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.image, image)
		})
	}
}

func TestOpenGraphLookup(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, videoPage)
	}))
	defer srv.Close()

	title, image, err := NewOpenGraph(srv.Client()).Lookup(context.Background(), srv.URL+"/v1-clip.html")
	require.NoError(t, err)
	assert.Equal(t, "Clip Title", title)
	assert.Equal(t, "https://sp.rmbl.ws/og.jpg", image)
}

func TestOpenGraphLookupStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	_, _, err := NewOpenGraph(srv.Client()).Lookup(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestExtractMetadataFallback(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, videoPage)
	}))
	defer srv.Close()

	probe := &fakeRunner{respond: func(args []string) (string, error) {
		if isMetadata(args) {
			return "", fmt.Errorf("metadata probe failed")
		}
		return "https://cdn/video.mp4\n", nil
	}}

	ext := New(probe, probe, t.TempDir()).WithMetadataFallback(NewOpenGraph(srv.Client()))
	res := ext.Extract(context.Background(), srv.URL+"/v1-clip.html", media.VideoHostB)

	require.NotNil(t, res.StreamURL)
	assert.Equal(t, "Clip Title", res.Title)
	assert.Equal(t, "https://sp.rmbl.ws/og.jpg", res.Thumbnail)
}

func TestExtractMetadataFallbackKeepsProbeThumbnail(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, videoPage)
	}))
	defer srv.Close()

	probe := &fakeRunner{respond: func(args []string) (string, error) {
		if isMetadata(args) {
			return "NA|https://img.example/thumb.jpg", nil
		}
		return "", nil
	}}

	ext := New(probe, probe, t.TempDir()).WithMetadataFallback(NewOpenGraph(srv.Client()))
	res := ext.Extract(context.Background(), srv.URL, media.VideoHostB)

	assert.Equal(t, "Clip Title", res.Title)
	assert.Equal(t, "https://img.example/thumb.jpg", res.Thumbnail)
}
