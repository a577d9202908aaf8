package social

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The upstream object graph omits attributes depending on post type and
// occasionally changes a field's JSON type. Every leaf below decodes
// leniently: a missing or mistyped value leaves the zero default in place
// instead of failing the whole document.

// text is a string that defaults to "" on absence or wrong type.
type text string

func (s *text) UnmarshalJSON(b []byte) error {
	var v string
	if json.Unmarshal(b, &v) == nil {
		*s = text(v)
	}
	return nil
}

// count is a non-negative counter that accepts JSON numbers and numeric
// strings, and defaults to 0 otherwise.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if json.Unmarshal(b, &s) != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return nil
		}
		v = int64(f)
	}
	if v > 0 {
		*c = count(v)
	}
	return nil
}

// object holds a nested object only when upstream sent one.
type object[T any] struct {
	v *T
}

func (o *object[T]) UnmarshalJSON(b []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return nil
	}
	var v T
	if json.Unmarshal(b, &v) != nil {
		return nil
	}
	o.v = &v
	return nil
}

// get returns the decoded object or nil.
func (o object[T]) get() *T {
	return o.v
}

// list is an ordered sequence that stays nil unless upstream sent a JSON
// array. Elements that fail to decode keep their position as zero values.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) || json.Unmarshal(b, &raw) != nil {
		return nil
	}
	out := make(list[T], len(raw))
	for i, r := range raw {
		_ = json.Unmarshal(r, &out[i])
	}
	*l = out
	return nil
}

// Upstream GraphQL shapes for TweetResultByRestId.

type tweetResultResponse struct {
	Data object[struct {
		TweetResult object[struct {
			Result object[tweetResult] `json:"result"`
		}] `json:"tweetResult"`
	}] `json:"data"`
}

// result digs the post out of the response envelope.
func (r *tweetResultResponse) result() *tweetResult {
	data := r.Data.get()
	if data == nil {
		return nil
	}
	tr := data.TweetResult.get()
	if tr == nil {
		return nil
	}
	return tr.Result.get()
}

type tweetResult struct {
	TypeName text                 `json:"__typename"`
	RestID   text                 `json:"rest_id"`
	Reason   text                 `json:"reason"`
	Core     object[tweetCore]    `json:"core"`
	Legacy   object[tweetLegacy]  `json:"legacy"`
	Views    object[tweetViews]   `json:"views"`
	Note     object[noteTweet]    `json:"note_tweet"`
	Tweet    object[tweetResult]  `json:"tweet"` // TweetWithVisibilityResults wrapper
	Quoted   object[quotedStatus] `json:"quoted_status_result"`
}

type quotedStatus struct {
	Result object[tweetResult] `json:"result"`
}

type tweetCore struct {
	UserResults object[struct {
		Result object[userResult] `json:"result"`
	}] `json:"user_results"`
}

type userResult struct {
	Legacy object[struct {
		ScreenName           text `json:"screen_name"`
		ProfileImageURLHTTPS text `json:"profile_image_url_https"`
	}] `json:"legacy"`
	Core object[struct {
		ScreenName text `json:"screen_name"`
	}] `json:"core"`
	Avatar object[struct {
		ImageURL text `json:"image_url"`
	}] `json:"avatar"`
}

type tweetViews struct {
	Count count `json:"count"`
}

type noteTweet struct {
	Results object[struct {
		Result object[struct {
			Text text `json:"text"`
		}] `json:"result"`
	}] `json:"note_tweet_results"`
}

type tweetLegacy struct {
	IDStr            text                   `json:"id_str"`
	FullText         text                   `json:"full_text"`
	CreatedAt        text                   `json:"created_at"`
	FavoriteCount    count                  `json:"favorite_count"`
	RetweetCount     count                  `json:"retweet_count"`
	BookmarkCount    count                  `json:"bookmark_count"`
	ExtendedEntities object[mediaContainer] `json:"extended_entities"`
	Entities         object[mediaContainer] `json:"entities"`
}

type mediaContainer struct {
	Media list[rawMedia] `json:"media"`
}

type rawMedia struct {
	Type          text              `json:"type"`
	MediaURLHTTPS text              `json:"media_url_https"`
	VideoInfo     object[videoInfo] `json:"video_info"`
}

type videoInfo struct {
	Variants list[variant] `json:"variants"`
}

type variant struct {
	Bitrate     count `json:"bitrate"`
	ContentType text  `json:"content_type"`
	URL         text  `json:"url"`
}
