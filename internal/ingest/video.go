package ingest

import (
	"net/url"
	"path"
	"strings"
)

const videoIDLength = 11

var videoHosts = map[string]bool{
	"youtu.be":                 true,
	"m.youtube.com":            true,
	"youtube.com":              true,
	"www.youtube.com":          true,
	"www.youtube-nocookie.com": true,
	"vid.plus":                 true,
}

// IsVideoURL reports whether raw points at a recognised video platform.
func IsVideoURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return videoHosts[strings.ToLower(u.Hostname())]
}

// VideoID extracts the canonical video id from a video platform URL. It
// reads the "v" query parameter on watch URLs and the last path segment
// otherwise (short links, embeds).
func VideoID(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !videoHosts[strings.ToLower(u.Hostname())] {
		return "", false
	}

	id := u.Query().Get("v")
	if id == "" {
		id = path.Base(strings.TrimRight(u.Path, "/"))
	}
	if len(id) != videoIDLength || id == "." || id == "/" {
		return "", false
	}
	return id, true
}

// VideoThumbnailURL returns the platform's high quality preview image for id.
func VideoThumbnailURL(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}
