// Package social resolves posts through the platform's guest GraphQL API.
package social

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"unfurl/internal/httputil"
	"unfurl/internal/media"
)

// maxChain caps how many quoted posts are decoded below a root, whatever
// the configured walk depth.
const maxChain = 64

const statusSegment = "/status/"

// Post is a fetched post with defaults applied to every missing field.
type Post struct {
	ID              string
	AuthorHandle    string
	AuthorAvatarURL string
	Text            string
	CreatedAt       string
	LikeCount       int64
	RetweetCount    int64
	BookmarkCount   int64
	ViewCount       int64

	// Media is nil when upstream exposed no media collection.
	Media []Media

	// Quote is set only when the quoted target is itself a post.
	Quote *Post
}

// Media is one upstream media item. Kind is the raw upstream type string.
type Media struct {
	Kind string
	URL  string
}

// HasRealMedia reports whether p carries a non-empty media collection.
func HasRealMedia(p *Post) bool {
	return p != nil && len(p.Media) > 0
}

// PostID extracts the numeric post identifier from a status URL.
func PostID(url string) (string, error) {
	i := strings.LastIndex(url, statusSegment)
	if i < 0 {
		return "", fmt.Errorf("%w: no %s segment in %q", media.ErrMalformedURL, statusSegment, url)
	}
	id := url[i+len(statusSegment):]
	if j := strings.IndexAny(id, "?#/"); j >= 0 {
		id = id[:j]
	}
	if err := httputil.ValidateNumericID(id); err != nil {
		return "", fmt.Errorf("%w: %v", media.ErrMalformedURL, err)
	}
	return id, nil
}

// buildChain converts a root result and its quotes, up to maxChain levels.
func buildChain(r *tweetResult) *Post {
	root := toPost(r)
	if root == nil {
		return nil
	}

	cur, raw := root, quotedResult(r)
	for depth := 0; depth < maxChain && raw != nil; depth++ {
		next := toPost(raw)
		if next == nil {
			break
		}
		cur.Quote = next
		cur, raw = next, quotedResult(raw)
	}
	return root
}

// unwrap strips the visibility wrapper some results carry.
func unwrap(r *tweetResult) *tweetResult {
	for i := 0; r != nil && i < 2; i++ {
		inner := r.Tweet.get()
		if inner == nil {
			break
		}
		r = inner
	}
	return r
}

func quotedResult(r *tweetResult) *tweetResult {
	r = unwrap(r)
	if r == nil {
		return nil
	}
	qs := r.Quoted.get()
	if qs == nil {
		return nil
	}
	return qs.Result.get()
}

// toPost maps one result to a Post, or returns nil when the result is a
// tombstone, an unavailable marker or otherwise not shaped like a post.
func toPost(r *tweetResult) *Post {
	r = unwrap(r)
	if r == nil {
		return nil
	}
	legacy := r.Legacy.get()
	if legacy == nil {
		return nil
	}

	p := &Post{
		ID:            string(r.RestID),
		Text:          string(legacy.FullText),
		CreatedAt:     string(legacy.CreatedAt),
		LikeCount:     int64(legacy.FavoriteCount),
		RetweetCount:  int64(legacy.RetweetCount),
		BookmarkCount: int64(legacy.BookmarkCount),
	}
	if p.ID == "" {
		p.ID = string(legacy.IDStr)
	}
	if note := noteText(r); note != "" {
		p.Text = note
	}
	if v := r.Views.get(); v != nil {
		p.ViewCount = int64(v.Count)
	}
	p.AuthorHandle, p.AuthorAvatarURL = author(r)
	p.Media = mediaItems(legacy)
	return p
}

// noteText returns the untruncated body of long posts.
func noteText(r *tweetResult) string {
	note := r.Note.get()
	if note == nil {
		return ""
	}
	res := note.Results.get()
	if res == nil {
		return ""
	}
	body := res.Result.get()
	if body == nil {
		return ""
	}
	return string(body.Text)
}

func author(r *tweetResult) (handle, avatar string) {
	core := r.Core.get()
	if core == nil {
		return "", ""
	}
	ur := core.UserResults.get()
	if ur == nil {
		return "", ""
	}
	user := ur.Result.get()
	if user == nil {
		return "", ""
	}
	if l := user.Legacy.get(); l != nil {
		handle, avatar = string(l.ScreenName), string(l.ProfileImageURLHTTPS)
	}
	if c := user.Core.get(); handle == "" && c != nil {
		handle = string(c.ScreenName)
	}
	if a := user.Avatar.get(); avatar == "" && a != nil {
		avatar = string(a.ImageURL)
	}
	return handle, avatar
}

// mediaItems prefers extended_entities, which lists every item, over
// entities, which only lists the first photo.
func mediaItems(legacy *tweetLegacy) []Media {
	var raw list[rawMedia]
	if ext := legacy.ExtendedEntities.get(); ext != nil && ext.Media != nil {
		raw = ext.Media
	} else if ent := legacy.Entities.get(); ent != nil {
		raw = ent.Media
	}
	if raw == nil {
		return nil
	}

	return lo.Map(raw, func(m rawMedia, _ int) Media {
		item := Media{Kind: string(m.Type)}
		switch media.Kind(item.Kind) {
		case media.Photo:
			item.URL = string(m.MediaURLHTTPS)
		case media.Video, media.AnimatedGIF:
			item.URL = bestVariant(m.VideoInfo.get())
		}
		return item
	})
}

// bestVariant picks the highest-bitrate mp4 rendition.
func bestVariant(info *videoInfo) string {
	if info == nil {
		return ""
	}
	mp4 := lo.Filter(info.Variants, func(v variant, _ int) bool {
		return v.ContentType == "video/mp4" && v.URL != ""
	})
	if len(mp4) == 0 {
		return ""
	}
	best := lo.MaxBy(mp4, func(a, b variant) bool {
		return a.Bitrate > b.Bitrate
	})
	return string(best.URL)
}
