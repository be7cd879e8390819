package service

import (
	"net/url"
	"strings"

	"github.com/mediapro/api/internal/model"
)

var supportedPlatforms = []model.Platform{
	{Name: "YouTube", Domains: []string{"youtube.com", "youtu.be"}},
	{Name: "Bilibili", Domains: []string{"bilibili.com", "b23.tv"}},
	{Name: "Vimeo", Domains: []string{"vimeo.com"}},
	{Name: "TikTok", Domains: []string{"tiktok.com"}},
	{Name: "Instagram", Domains: []string{"instagram.com"}},
	{Name: "Facebook", Domains: []string{"facebook.com", "fb.watch"}},
	{Name: "Twitter", Domains: []string{"twitter.com", "x.com"}},
}

// Platforms returns the known source platforms.
func Platforms() []model.Platform {
	out := make([]model.Platform, len(supportedPlatforms))
	copy(out, supportedPlatforms)
	return out
}

// DetectPlatform returns the platform name for rawURL, or "" when unknown.
func DetectPlatform(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range supportedPlatforms {
		for _, d := range p.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return p.Name
			}
		}
	}
	return ""
}
