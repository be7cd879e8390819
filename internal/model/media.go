package model

// Metadata describes a remote media item as reported by the fetch tool
type Metadata struct {
	Title           string                     `json:"title"`
	DurationSeconds float64                    `json:"durationSeconds"`
	Uploader        string                     `json:"uploader"`
	Platform        string                     `json:"platform,omitempty"`
	Thumbnail       string                     `json:"thumbnail,omitempty"`
	WebpageURL      string                     `json:"webpageUrl,omitempty"`
	Ext             string                     `json:"ext,omitempty"`
	Formats         []Format                   `json:"formats"`
	Subtitles       map[string][]SubtitleTrack `json:"subtitles"`
}

// Format is one downloadable rendition of a media item
type Format struct {
	FormatID        string `json:"formatId"`
	Container       string `json:"container"`
	Resolution      string `json:"resolution,omitempty"`
	VideoCodec      string `json:"videoCodec,omitempty"`
	AudioCodec      string `json:"audioCodec,omitempty"`
	ApproxSizeBytes int64  `json:"approxSizeBytes,omitempty"`
	ApproxSize      string `json:"approxSize,omitempty"`
	Note            string `json:"note,omitempty"`
}

// SubtitleTrack is one subtitle rendition for a language tag
type SubtitleTrack struct {
	Name        string `json:"name"`
	Extension   string `json:"ext,omitempty"`
	IsAutomatic bool   `json:"isAutomatic"`
}

// Artifact is a produced output file ready for delivery
type Artifact struct {
	Path        string
	Filename    string
	Title       string
	ContentType string
	Size        int64
}

// Platform is a supported source site
type Platform struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
}
