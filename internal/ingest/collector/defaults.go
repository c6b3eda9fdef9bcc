package collector

import (
	"fmt"
	"strings"
)

// Feed describes a built-in feed.
type Feed struct {
	Name   string
	Vendor string
	URL    string
}

// DefaultFeeds are the official release channels collected out of the box.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "aws-whatsnew", Vendor: "AWS", URL: "https://aws.amazon.com/about-aws/whats-new/recent/feed/"},
		{Name: "gcp-release-notes", Vendor: "GCP", URL: "https://cloud.google.com/feeds/gcp-release-notes.xml"},
		{Name: "openai-news", Vendor: "OpenAI", URL: "https://openai.com/news/rss.xml"},
		{Name: "github-changelog", Vendor: "GitHub", URL: "https://github.blog/changelog/feed/"},
		{Name: "github-blog", Vendor: "GitHub", URL: "https://github.blog/feed/"},
	}
}

// GitHubReleaseFeeds turns "owner/repo" entries into release Atom feeds.
// Malformed entries are skipped.
func GitHubReleaseFeeds(repos []string) []Feed {
	feeds := make([]Feed, 0, len(repos))

	for _, repo := range repos {
		repo = strings.Trim(strings.TrimSpace(repo), "/")

		owner, name, ok := strings.Cut(repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			continue
		}

		feeds = append(feeds, Feed{
			Name:   "github-releases:" + repo,
			Vendor: "GitHub OSS",
			URL:    fmt.Sprintf("https://github.com/%s/%s/releases.atom", owner, name),
		})
	}

	return feeds
}

// FilterFeeds drops feeds whose name is listed in disabled.
func FilterFeeds(feeds []Feed, disabled []string) []Feed {
	skip := make(map[string]struct{}, len(disabled))
	for _, name := range disabled {
		skip[strings.TrimSpace(name)] = struct{}{}
	}

	out := make([]Feed, 0, len(feeds))

	for _, f := range feeds {
		if _, ok := skip[f.Name]; ok {
			continue
		}

		out = append(out, f)
	}

	return out
}
