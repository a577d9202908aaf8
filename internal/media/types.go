// Package media defines shared types for the unfurl service.
package media

import (
	"encoding/json"
	"fmt"
)

// SourceKind identifies which extraction strategy handles a URL.
type SourceKind string

const (
	VideoHostA SourceKind = "video_host_a" // generic video platform
	VideoHostB SourceKind = "video_host_b" // secondary video platform
	Social     SourceKind = "social"
)

// Kind is the type of a single media item attached to a post.
type Kind string

const (
	Photo       Kind = "photo"
	Video       Kind = "video"
	AnimatedGIF Kind = "animated_gif"
)

// ParseKind maps an upstream media type string to a Kind.
// The second return is false for kinds this service does not materialize.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Photo, Video, AnimatedGIF:
		return Kind(s), true
	default:
		return "", false
	}
}

// Ext returns the file extension used for a materialized asset of this kind.
func (k Kind) Ext() string {
	if k == Photo {
		return "jpg"
	}
	return "mp4"
}

// MediaPathPrefix is the public route under which materialized assets are served.
const MediaPathPrefix = "/media/"

// VideoTempPathPrefix is the public route under which merged fallback videos are served.
const VideoTempPathPrefix = "/video-temp/"

// Asset is one downloadable unit belonging to a post.
type Asset struct {
	Kind         Kind
	SourcePostID string
	Index        int // position in the upstream media list
}

// LocalFilename is {post}_{kind}_{index}.{ext}. It depends on nothing but the
// three fields, so re-resolving a post always names the same files.
func (a Asset) LocalFilename() string {
	return fmt.Sprintf("%s_%s_%d.%s", a.SourcePostID, a.Kind, a.Index, a.Kind.Ext())
}

// PublicRef returns the route a client uses to fetch the asset.
func (a Asset) PublicRef() string {
	return MediaPathPrefix + a.LocalFilename()
}

// PostNode is the normalized view of one social post.
type PostNode struct {
	ID              string    `json:"id"`
	AuthorHandle    string    `json:"authorHandle"`
	AuthorAvatarURL string    `json:"authorAvatarUrl"`
	Text            string    `json:"text"`
	CreatedAt       string    `json:"createdAt"`
	LikeCount       int64     `json:"likeCount"`
	RetweetCount    int64     `json:"retweetCount"`
	BookmarkCount   int64     `json:"bookmarkCount"`
	ViewCount       int64     `json:"viewCount"`
	Media           []string  `json:"media"`
	Quoted          *PostNode `json:"quoted"`
}

// VideoResolution is the result for the two video hosts.
type VideoResolution struct {
	SourceType SourceKind `json:"-"`
	OriginURL  string     `json:"originUrl"`
	StreamURL  *string    `json:"streamUrl"` // nil when extraction failed
	Title      string     `json:"title"`
	Thumbnail  string     `json:"thumbnail"`

	// LocalFile is the merged temp file name when the fallback produced one.
	LocalFile string `json:"-"`
}

// Result is the external envelope: exactly one of Video or Post is set.
type Result struct {
	Type  SourceKind
	Video *VideoResolution
	Post  *PostNode
}

type videoEnvelope struct {
	Type SourceKind `json:"type"`
	*VideoResolution
}

type postEnvelope struct {
	Type SourceKind `json:"type"`
	*PostNode
}

// MarshalJSON flattens the envelope into {"type": ..., <payload fields>}.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Post != nil:
		return json.Marshal(postEnvelope{Type: r.Type, PostNode: r.Post})
	case r.Video != nil:
		return json.Marshal(videoEnvelope{Type: r.Type, VideoResolution: r.Video})
	default:
		return nil, fmt.Errorf("result of type %q has no payload", r.Type)
	}
}
