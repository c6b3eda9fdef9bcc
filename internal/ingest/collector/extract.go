package collector

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/japanese-wolf/brain-stream/internal/platform/htmlutils"
)

const maxPageBytes = 5 * 1024 * 1024

// pageExtractor fetches an article page and keeps its readable text.
type pageExtractor struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func (p *pageExtractor) Text(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && !strings.Contains(mt, "html") {
			return "", fmt.Errorf("%w: %q", errUnsupportedContentType, mt)
		}
	}

	// Vendor pages are not all UTF-8; readability expects it.
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), ct)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}

	article, err := readability.FromReader(body, u)
	if err != nil {
		return "", fmt.Errorf("extract readable text: %w", err)
	}

	return htmlutils.NormalizeWhitespace(article.TextContent), nil
}
