package services

import (
	"strings"

	yt "github.com/kkdai/youtube/v2"
)

// formatRank is the part of a format that negotiation looks at.
type formatRank struct {
	height  int
	width   int
	mp4     bool
	bitrate int64
}

// outranks orders formats by resolution, then mp4 container, then bitrate.
func (a formatRank) outranks(b formatRank) bool {
	if a.height != b.height {
		return a.height > b.height
	}
	if a.width != b.width {
		return a.width > b.width
	}
	if a.mp4 != b.mp4 {
		return a.mp4
	}
	return a.bitrate > b.bitrate
}

// pickBestProgressive returns the highest-resolution format that carries both
// audio and video in one file, or nil when there is none.
func pickBestProgressive(formats yt.FormatList) *yt.Format {
	var best *yt.Format
	var bestRank formatRank
	withAudio := formats.WithAudioChannels()
	for i := range withAudio {
		f := &withAudio[i]
		if !strings.HasPrefix(f.MimeType, "video/") || f.Height <= 0 {
			continue
		}
		r := formatRank{
			height:  f.Height,
			width:   f.Width,
			mp4:     strings.HasPrefix(f.MimeType, "video/mp4"),
			bitrate: int64(f.Bitrate),
		}
		if best == nil || r.outranks(bestRank) {
			best, bestRank = f, r
		}
	}
	return best
}

// ytdlpFormat is one entry of yt-dlp's formats[] array.
type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	Acodec      string            `json:"acodec"`
	Vcodec      string            `json:"vcodec"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Tbr         float64           `json:"tbr"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

func (f ytdlpFormat) progressive() bool {
	if f.URL == "" {
		return false
	}
	if f.Protocol != "" && f.Protocol != "https" && f.Protocol != "http" {
		return false
	}
	return hasCodec(f.Acodec) && hasCodec(f.Vcodec)
}

func hasCodec(c string) bool {
	return c != "" && c != "none"
}

func pickBestYtdlpFormat(formats []ytdlpFormat) *ytdlpFormat {
	var best *ytdlpFormat
	var bestRank formatRank
	for i := range formats {
		f := &formats[i]
		if !f.progressive() {
			continue
		}
		r := formatRank{
			height:  f.Height,
			width:   f.Width,
			mp4:     f.Ext == "mp4",
			bitrate: int64(f.Tbr * 1000),
		}
		if best == nil || r.outranks(bestRank) {
			best, bestRank = f, r
		}
	}
	return best
}
