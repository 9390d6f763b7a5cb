package thumbnail

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"golang.org/x/net/html"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/httpclient"
)

const wikipediaProvider = "wikipedia"

var (
	// ErrPageNotFound is returned when Wikipedia has no page for a title.
	ErrPageNotFound = errors.NewStd("wikipedia page not found")
	// ErrDisambiguation is returned when a title resolves to a disambiguation
	// page with no usable options.
	ErrDisambiguation = errors.NewStd("wikipedia title is ambiguous")
)

// wikiPage is the subset of a MediaWiki query page the generator needs.
type wikiPage struct {
	Title          string
	Extract        string
	Disambiguation bool
}

// wikipediaClient talks to the MediaWiki action API.
type wikipediaClient struct {
	http     *httpclient.Client
	endpoint string
	observe  func(provider string, d time.Duration, err error)
}

// page fetches the full plain-text extract of title, following redirects.
func (w *wikipediaClient) page(ctx context.Context, title string) (*wikiPage, error) {
	resp, err := w.query(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts|pageprops"},
		"ppprop":      {"disambiguation"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"titles":      {title},
	})
	if err != nil {
		return nil, err
	}
	p, err := firstPage(resp, title)
	if err != nil {
		return nil, err
	}

	page := &wikiPage{Title: title}
	if t, err := p.GetString("title"); err == nil {
		page.Title = t
	}
	page.Extract, _ = p.GetString("extract")
	if _, err := p.GetString("pageprops", "disambiguation"); err == nil {
		page.Disambiguation = true
	}
	return page, nil
}

// summary returns the first sentences of the lead section as plain text.
func (w *wikipediaClient) summary(ctx context.Context, title string, sentences int) (string, error) {
	resp, err := w.query(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"exsentences": {strconv.Itoa(sentences)},
		"redirects":   {"1"},
		"titles":      {title},
	})
	if err != nil {
		return "", err
	}
	p, err := firstPage(resp, title)
	if err != nil {
		return "", err
	}
	extract, _ := p.GetString("extract")
	return strings.TrimSpace(html2text.HTML2Text(extract)), nil
}

// disambiguationOptions lists the article titles linked from the list items of
// a disambiguation page, in page order.
func (w *wikipediaClient) disambiguationOptions(ctx context.Context, title string) ([]string, error) {
	resp, err := w.query(ctx, url.Values{
		"action": {"parse"},
		"page":   {title},
		"prop":   {"text"},
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.GetString("parse", "text")
	if err != nil {
		return nil, providerError(ErrPageNotFound, "parse-disambiguation", title)
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, providerError(err, "parse-disambiguation-html", title)
	}
	return listItemLinks(doc), nil
}

func (w *wikipediaClient) query(ctx context.Context, params url.Values) (*jason.Object, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	start := time.Now()
	body, err := w.http.GetBody(ctx, w.endpoint+"?"+params.Encode())
	if w.observe != nil {
		w.observe(wikipediaProvider, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	resp, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, providerError(err, "decode-response", params.Get("titles")+params.Get("page"))
	}
	if code, err := resp.GetString("error", "code"); err == nil {
		if code == "missingtitle" {
			return nil, providerError(ErrPageNotFound, params.Get("action"), params.Get("page"))
		}
		info, _ := resp.GetString("error", "info")
		return nil, providerError(fmt.Errorf("wikipedia api error %s: %s", code, info),
			params.Get("action"), params.Get("titles")+params.Get("page"))
	}
	return resp, nil
}

// firstPage returns the single page of a formatversion=2 query response.
func firstPage(resp *jason.Object, title string) (*jason.Object, error) {
	pages, err := resp.GetObjectArray("query", "pages")
	if err != nil || len(pages) == 0 {
		return nil, providerError(ErrPageNotFound, "query", title)
	}
	p := pages[0]
	if missing, err := p.GetBoolean("missing"); err == nil && missing {
		return nil, providerError(ErrPageNotFound, "query", title)
	}
	if invalid, err := p.GetBoolean("invalid"); err == nil && invalid {
		return nil, providerError(ErrPageNotFound, "query", title)
	}
	return p, nil
}

// listItemLinks returns the text of the first article link in every <li>.
func listItemLinks(doc *html.Node) []string {
	var options []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" && !isTOCItem(n) {
			if a := firstArticleLink(n); a != nil {
				if text := strings.TrimSpace(nodeText(a)); text != "" {
					options = append(options, text)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return options
}

func isTOCItem(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" && strings.Contains(attr.Val, "toc") {
			return true
		}
	}
	return false
}

func firstArticleLink(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if attr.Key == "href" && strings.HasPrefix(attr.Val, "/wiki/") && !strings.Contains(attr.Val, ":") {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if a := firstArticleLink(c); a != nil {
			return a
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

// descriptionSection returns the "Description" section of a plain-text
// extract with heading markers removed, or "" when there is none.
func descriptionSection(content string) string {
	for _, section := range strings.Split(content, "\n==") {
		if strings.HasPrefix(strings.ToLower(section), " description") ||
			strings.Contains(section, "\n===Description") {
			section = strings.ReplaceAll(section, "===", "")
			section = strings.ReplaceAll(section, "==", "")
			return strings.TrimSpace(section)
		}
	}
	return ""
}

func providerError(err error, operation, title string) error {
	return errors.New(err).
		Component("thumbnail").
		Category(errors.CategoryImageProvider).
		Context("provider", wikipediaProvider).
		Context("operation", operation).
		Context("title", title).
		Build()
}
