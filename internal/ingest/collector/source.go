package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/platform/htmlutils"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultMinTextLength = 200
	maxTextLength        = 20000
	maxFeedBytes         = 10 * 1024 * 1024
	defaultUserAgent     = "BrainStream/1.0"
)

var (
	errHTTPStatus             = errors.New("unexpected HTTP status")
	errUnsupportedContentType = errors.New("unsupported content type")
)

// articleNamespace seeds the name-based UUIDs used as article ids.
var articleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/japanese-wolf/brain-stream/articles"))

// Source produces raw articles from one upstream.
type Source interface {
	Name() string
	Vendor() string
	// Fetch returns entries published at or after since. A zero since returns everything.
	Fetch(ctx context.Context, since time.Time) ([]domain.RawArticle, error)
}

// RSSConfig configures an RSS or Atom source.
type RSSConfig struct {
	Name   string
	Vendor string
	URL    string

	Client *http.Client
	// Limiter is shared by every source so one host is never hammered.
	Limiter   *rate.Limiter
	UserAgent string
	// MaxItems caps entries per fetch. Zero keeps all.
	MaxItems int
	// MinTextLength triggers the page text fallback for thin entries.
	MinTextLength int
	Readability   bool
	Now           func() time.Time
}

// RSSSource fetches an RSS or Atom feed with gofeed.
type RSSSource struct {
	cfg       RSSConfig
	parser    *gofeed.Parser
	extractor *pageExtractor
	logger    *zerolog.Logger
}

// NewRSSSource creates a feed source, filling unset fields with defaults.
func NewRSSSource(cfg RSSConfig, logger *zerolog.Logger) *RSSSource {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultFetchTimeout}
	}

	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = defaultMinTextLength
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RSSSource{
		cfg:       cfg,
		parser:    gofeed.NewParser(),
		extractor: &pageExtractor{client: cfg.Client, limiter: cfg.Limiter, userAgent: cfg.UserAgent},
		logger:    logger,
	}
}

func (s *RSSSource) Name() string   { return s.cfg.Name }
func (s *RSSSource) Vendor() string { return s.cfg.Vendor }

func (s *RSSSource) Fetch(ctx context.Context, since time.Time) ([]domain.RawArticle, error) {
	body, err := s.get(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", s.cfg.Name, err)
	}

	feed, err := s.parser.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.cfg.Name, err)
	}

	now := s.cfg.Now()
	out := make([]domain.RawArticle, 0, len(feed.Items))

	for _, item := range feed.Items {
		if s.cfg.MaxItems > 0 && len(out) >= s.cfg.MaxItems {
			break
		}

		article := s.convert(item, now)
		if !since.IsZero() && !article.PublishedAt.IsZero() && article.PublishedAt.Before(since) {
			continue
		}

		if s.cfg.Readability && utf8.RuneCountInString(article.Text) < s.cfg.MinTextLength && article.URL != "" {
			s.enrich(ctx, &article)
		}

		article.Text = htmlutils.Truncate(article.Text, maxTextLength)
		out = append(out, article)
	}

	return out, nil
}

func (s *RSSSource) get(ctx context.Context, url string) (string, error) {
	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

func (s *RSSSource) convert(item *gofeed.Item, now time.Time) domain.RawArticle {
	text := htmlutils.StripHTMLTags(item.Content)
	if text == "" {
		text = htmlutils.StripHTMLTags(item.Description)
	}

	return domain.RawArticle{
		ID:          articleID(s.cfg.Vendor, item),
		Vendor:      s.cfg.Vendor,
		Title:       strings.TrimSpace(htmlutils.StripHTMLTags(item.Title)),
		Text:        text,
		URL:         strings.TrimSpace(item.Link),
		CollectedAt: now,
		PublishedAt: publishedAt(item),
	}
}

// enrich replaces thin feed text with the readable text of the linked page.
// Failures keep the feed text.
func (s *RSSSource) enrich(ctx context.Context, article *domain.RawArticle) {
	text, err := s.extractor.Text(ctx, article.URL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", article.URL).Msg("page text fallback failed")

		return
	}

	if utf8.RuneCountInString(text) > utf8.RuneCountInString(article.Text) {
		article.Text = text
	}
}

// articleID derives a stable id from the vendor and the entry's GUID, link or title.
func articleID(vendor string, item *gofeed.Item) domain.ArticleID {
	key := item.GUID
	if key == "" {
		key = item.Link
	}

	if key == "" {
		key = item.Title + "|" + item.Published
	}

	return domain.ArticleID(uuid.NewSHA1(articleNamespace, []byte(vendor+"\x00"+key)).String())
}

func publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}

	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}

		if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}
