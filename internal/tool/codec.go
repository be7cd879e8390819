package tool

import (
	"sort"
	"strings"
)

// AudioCodec maps an audio output format to its ffmpeg encoder and muxer.
type AudioCodec struct {
	Format      string
	Encoder     string
	Muxer       string
	Extension   string
	ContentType string
}

var audioCodecs = map[string]AudioCodec{
	"mp3": {Format: "mp3", Encoder: "libmp3lame", Muxer: "mp3", Extension: "mp3", ContentType: "audio/mpeg"},
	"wav": {Format: "wav", Encoder: "pcm_s16le", Muxer: "wav", Extension: "wav", ContentType: "audio/wav"},
}

// ResolveAudioCodec returns the codec for format or an UnsupportedFormatError.
func ResolveAudioCodec(format string) (AudioCodec, error) {
	codec, ok := audioCodecs[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return AudioCodec{}, &UnsupportedFormatError{Kind: "audio", Format: format}
	}
	return codec, nil
}

// AudioFormats lists the supported audio output formats.
func AudioFormats() []string {
	formats := make([]string, 0, len(audioCodecs))
	for f := range audioCodecs {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// VideoContainer describes a video output container.
type VideoContainer struct {
	Format      string
	Muxer       string
	ContentType string
}

var videoContainers = map[string]VideoContainer{
	"mp4":  {Format: "mp4", Muxer: "mp4", ContentType: "video/mp4"},
	"mkv":  {Format: "mkv", Muxer: "matroska", ContentType: "video/x-matroska"},
	"webm": {Format: "webm", Muxer: "webm", ContentType: "video/webm"},
	"mov":  {Format: "mov", Muxer: "mov", ContentType: "video/quicktime"},
}

// ResolveVideoContainer returns the container for format or an UnsupportedFormatError.
func ResolveVideoContainer(format string) (VideoContainer, error) {
	c, ok := videoContainers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return VideoContainer{}, &UnsupportedFormatError{Kind: "video", Format: format}
	}
	return c, nil
}

// VideoContainers lists the supported video output containers.
func VideoContainers() []string {
	formats := make([]string, 0, len(videoContainers))
	for f := range videoContainers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// ContentTypeFor guesses a media content type from a file extension.
func ContentTypeFor(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, c := range audioCodecs {
		if c.Extension == ext {
			return c.ContentType
		}
	}
	if c, ok := videoContainers[ext]; ok {
		return c.ContentType
	}
	switch ext {
	case "m4v":
		return "video/mp4"
	case "m4a":
		return "audio/mp4"
	case "opus", "ogg":
		return "audio/ogg"
	case "webm_audio", "weba":
		return "audio/webm"
	case "flv":
		return "video/x-flv"
	}
	return "application/octet-stream"
}
