package providers

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
)

// HTMLAdapter serves archives that publish files under HTML directory
// indexes whose names embed a provider token, e.g. the production timestamp
// of MODIS tiles. The index is scraped to resolve the token, then the file is
// downloaded over HTTP.
type HTMLAdapter struct {
	http *HTTPAdapter
}

// NewHTML returns an HTMLAdapter downloading through h.
func NewHTML(h *HTTPAdapter) *HTMLAdapter {
	return &HTMLAdapter{http: h}
}

func (a *HTMLAdapter) Protocol() string { return "html" }

func (a *HTMLAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	resolveTokens(ctx, run, task, func(ctx context.Context, dir string) ([]string, error) {
		return a.list(ctx, run.Account, dir)
	})
	return a.http.Fetch(ctx, run, task)
}

func (a *HTMLAdapter) list(ctx context.Context, acc credentials.Account, dir string) ([]string, error) {
	body, err := a.http.open(ctx, acc, dir)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return parseIndex(body)
}

// parseIndex returns the base names of every anchor in a directory index.
func parseIndex(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var names []string
	walkNodeTree(doc, func(node *html.Node) {
		if node.Type != html.ElementNode || node.Data != "a" {
			return
		}
		for _, attr := range node.Attr {
			if attr.Key != "href" {
				continue
			}
			ref, err := url.Parse(attr.Val)
			if err != nil || ref.Path == "" {
				continue
			}
			name := path.Base(strings.TrimRight(ref.Path, "/"))
			if name != "." && name != ".." {
				names = append(names, name)
			}
		}
	})
	return names, nil
}

// walkNodeTree visits root and its descendants depth first.
func walkNodeTree(root *html.Node, fn func(*html.Node)) {
	fn(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walkNodeTree(c, fn)
	}
}
