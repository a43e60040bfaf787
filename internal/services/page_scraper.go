package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"enricher-backend/internal/models"
)

// mediaSelectors are tried in order; the first with a usable URL wins.
var mediaSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="og:video:secure_url"]`, "content"},
	{`meta[property="og:video:url"]`, "content"},
	{`meta[property="og:video"]`, "content"},
	{`meta[name="twitter:player:stream"]`, "content"},
	{`video source[src]`, "src"},
	{`video[src]`, "src"},
}

// PageScraper is the last generic backend: it reads the page's own markup
// for a direct video URL, or streams the URL itself when it already points
// at a media file.
type PageScraper struct {
	client *http.Client
}

func NewPageScraper(client *http.Client) *PageScraper {
	if client == nil {
		client = NewHTTPClient()
	}
	return &PageScraper{client: client}
}

func (p *PageScraper) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	pageURL, err := parseSourceURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if ext := path.Ext(pageURL.Path); isMediaExt(ext) {
		name := strings.TrimSuffix(path.Base(pageURL.Path), ext)
		artifact, err := streamToArtifact(ctx, p.client, rawURL, nil, ws.Path("direct"+ext))
		if err != nil {
			return nil, nil, err
		}
		return artifact, &models.VideoMetadata{
			Title:    name,
			Uploader: pageURL.Hostname(),
			Source:   sourceLabel(OriginGeneric, rawURL),
			Origin:   OriginGeneric.String(),
		}, nil
	}

	doc, err := p.fetchDocument(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}

	page := parsePage(doc, pageURL)
	if page.mediaURL == "" {
		return nil, nil, &UnsupportedMediaError{Message: "page does not expose a video URL"}
	}

	artifact, err := streamToArtifact(ctx, p.client, page.mediaURL, map[string]string{"Referer": rawURL}, ws.Path("page.mp4"))
	if err != nil {
		return nil, nil, err
	}

	meta := &models.VideoMetadata{
		Title:    page.title,
		Uploader: page.author,
		Source:   sourceLabel(OriginGeneric, rawURL),
		Origin:   OriginGeneric.String(),
	}
	if page.thumbnail != "" {
		thumb := page.thumbnail
		meta.Thumbnail = &thumb
	}
	return artifact, meta, nil
}

// fetchDocument fetches a URL and parses it into a goquery Document.
func (p *PageScraper) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create page request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("page request failed: %w", err), "page fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(SideResolver, resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}
	if ct := mediaType(resp.Header.Get("Content-Type")); ct != "" && !strings.Contains(ct, "html") {
		return nil, &UnsupportedMediaError{Message: "page is " + ct + ", not HTML"}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

type pageInfo struct {
	mediaURL  string
	title     string
	author    string
	thumbnail string
}

func parsePage(doc *goquery.Document, base *url.URL) pageInfo {
	var info pageInfo

	for _, sel := range mediaSelectors {
		doc.Find(sel.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(sel.attr)
			if abs := resolveReference(base, v); abs != "" {
				info.mediaURL = abs
				return false
			}
			return true
		})
		if info.mediaURL != "" {
			break
		}
	}

	info.title = firstContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`)
	if info.title == "" {
		info.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	info.author = firstContent(doc, `meta[name="author"]`, `meta[property="og:site_name"]`)
	if info.author == "" {
		info.author = base.Hostname()
	}
	info.thumbnail = resolveReference(base, firstContent(doc, `meta[property="og:image"]`, `meta[name="twitter:image"]`))
	return info
}

func firstContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveReference makes ref absolute against base and keeps only http(s).
// blob: and data: sources are not downloadable.
func resolveReference(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}
