package handler

import (
	"strings"
	"testing"

	"github.com/mediapro/api/internal/model"
)

func TestValidator_FormatSelector(t *testing.T) {
	v := NewValidator()
	const url = "https://www.youtube.com/watch?v=aqz-KE-bpKQ"

	accepted := []string{
		"140",
		"18",
		"137+140",
		"hls-1080p",
		"hls-2176-0",
		"dash-video=2000000",
		"dash-audio_eng=128000",
		"http-720p-0",
		"mp4-high",
		"h264_1080p#0",
		"bv*+ba/b",
		"bestvideo[height<=720]+bestaudio",
		"bv[format_note*='DASH']",
		"best[ext=mp4]/best",
	}
	for _, sel := range accepted {
		req := model.DownloadRequest{URL: url, FormatSelector: sel}
		if err := v.Struct(req); err != nil {
			t.Errorf("selector %q rejected: %v", sel, err)
		}
	}

	rejected := []string{
		"best video",
		"best\nworst",
		"best;rm",
		strings.Repeat("b", 201),
	}
	for _, sel := range rejected {
		req := model.DownloadRequest{URL: url, FormatSelector: sel}
		if err := v.Struct(req); err == nil {
			t.Errorf("selector %q accepted", sel)
		}
	}
}

func TestValidator_MediaURL(t *testing.T) {
	v := NewValidator()

	for _, raw := range []string{"https://vimeo.com/1", "http://example.com/a.mp4"} {
		if err := v.Struct(model.InfoRequest{URL: raw}); err != nil {
			t.Errorf("url %q rejected: %v", raw, err)
		}
	}
	for _, raw := range []string{"", "--exec=rm", "ftp://example.com/a", "https://", "example.com"} {
		if err := v.Struct(model.InfoRequest{URL: raw}); err == nil {
			t.Errorf("url %q accepted", raw)
		}
	}
}
