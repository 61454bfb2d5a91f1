// Package dom is the click-interception adapter. It applies rewrite decisions
// to anchors in an x/net/html node tree, mutating href in place the way an
// in-page click listener would before the browser follows the link.
package dom

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/services/interceptor"
)

// SourceName identifies clicks delivered by this adapter.
const SourceName = "dom"

// ClickEvent is a click on Target inside the page at PageURL.
type ClickEvent struct {
	Target  *html.Node
	PageURL string
}

// ClickHandler delivers click events to an interceptor.Handler.
type ClickHandler struct {
	handler interceptor.Handler
	logger  log.Logger
}

// NewClickHandler constructs a ClickHandler.
func NewClickHandler(h interceptor.Handler, logger log.Logger) *ClickHandler {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &ClickHandler{handler: h, logger: logger}
}

// Name implements interceptor.NavigationSource.
func (c *ClickHandler) Name() string { return SourceName }

// HandleClick walks from the event target up to the nearest anchor, resolves
// its href against the page and rewrites it in place. It reports whether the
// anchor was changed. Clicks outside anchors, anchors without a usable href
// and pages without an origin are left alone.
func (c *ClickHandler) HandleClick(ctx context.Context, ev ClickEvent) bool {
	a := nearestAnchor(ev.Target)
	if a == nil {
		return false
	}
	href, ok := getAttr(a, "href")
	if !ok || strings.TrimSpace(href) == "" {
		return false
	}
	origin, err := domain.ParseOrigin(ev.PageURL)
	if err != nil {
		c.logger.Warn(map[string]any{"page": ev.PageURL, "error": err.Error()}, "click on page without origin")
		return false
	}
	resolved, err := domain.CandidateURL{Raw: href, Origin: origin}.Resolve(ev.PageURL)
	if err != nil {
		c.logger.Debug(map[string]any{"href": href, "error": err.Error()}, "unresolvable anchor")
		return false
	}

	res := c.handler.HandleClick(ctx, interceptor.ClickCandidate{URL: resolved, Origin: origin, Source: SourceName})
	if !res.IsRewritten() {
		return false
	}
	setAttr(a, "href", res.URL(resolved))
	return true
}

// RewriteDocument runs every anchor under doc through the click path and
// returns how many were rewritten.
func (c *ClickHandler) RewriteDocument(ctx context.Context, doc *html.Node, pageURL string) int {
	n := 0
	for _, a := range anchors(doc) {
		if c.HandleClick(ctx, ClickEvent{Target: a, PageURL: pageURL}) {
			n++
		}
	}
	return n
}

// RewriteHTML parses an HTML document from r, rewrites its anchors and
// renders the result to w.
func (c *ClickHandler) RewriteHTML(ctx context.Context, r io.Reader, w io.Writer, pageURL string) (int, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	n := c.RewriteDocument(ctx, doc, pageURL)
	if err := html.Render(w, doc); err != nil {
		return n, fmt.Errorf("render html: %w", err)
	}
	return n, nil
}

func isAnchor(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.A
}

// nearestAnchor returns n or its closest <a> ancestor.
func nearestAnchor(n *html.Node) *html.Node {
	for ; n != nil; n = n.Parent {
		if isAnchor(n) {
			return n
		}
	}
	return nil
}

func anchors(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isAnchor(n) {
			out = append(out, n)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

var _ interceptor.NavigationSource = (*ClickHandler)(nil)
