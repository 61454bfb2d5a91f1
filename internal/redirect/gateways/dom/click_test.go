package dom

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/haukened/privacy-redirect/internal/redirect/services/interceptor"
	"github.com/haukened/privacy-redirect/internal/redirect/services/policy"
)

const page = "https://example.com/blog/post"

func newHandler(t *testing.T) *ClickHandler {
	t.Helper()
	i, err := interceptor.New(interceptor.Options{Policy: policy.New("https://privacydir.com", nil, nil)})
	require.NoError(t, err)
	return NewClickHandler(i, nil)
}

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

// byID finds the element with the given id attribute.
func byID(n *html.Node, id string) *html.Node {
	if v, ok := getAttr(n, "id"); ok && n.Type == html.ElementNode && v == id {
		return n
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if found := byID(ch, id); found != nil {
			return found
		}
	}
	return nil
}

func href(t *testing.T, n *html.Node) string {
	t.Helper()
	v, ok := getAttr(n, "href")
	require.True(t, ok)
	return v
}

func TestHandleClick_WalksUpToAnchor(t *testing.T) {
	doc := parse(t, `<body><a id="a" href="https://twitter.com/x?ref_src=1"><span><b id="target">click</b></span></a></body>`)
	c := newHandler(t)

	changed := c.HandleClick(context.Background(), ClickEvent{Target: byID(doc, "target"), PageURL: page})
	assert.True(t, changed)
	assert.Equal(t, "https://privacydir.com/?https://twitter.com/x?ref_src=1", href(t, byID(doc, "a")))
}

func TestHandleClick_NoAnchor(t *testing.T) {
	doc := parse(t, `<body><div><p id="target">text</p></div></body>`)
	assert.False(t, newHandler(t).HandleClick(context.Background(), ClickEvent{Target: byID(doc, "target"), PageURL: page}))
	assert.False(t, newHandler(t).HandleClick(context.Background(), ClickEvent{Target: nil, PageURL: page}))
}

func TestHandleClick_LeavesAnchorsAlone(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"no href", `<a id="a" name="top">x</a>`},
		{"empty href", `<a id="a" href="  ">x</a>`},
		{"same origin", `<a id="a" href="/about">x</a>`},
		{"mailto", `<a id="a" href="mailto:a@b.com">x</a>`},
		{"fragment", `<a id="a" href="#section">x</a>`},
		{"already wrapped", `<a id="a" href="https://privacydir.com/?https://a.com">x</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, tt.html)
			a := byID(doc, "a")
			before := append([]html.Attribute(nil), a.Attr...)

			assert.False(t, newHandler(t).HandleClick(context.Background(), ClickEvent{Target: a, PageURL: page}))
			assert.Equal(t, before, a.Attr)
		})
	}
}

func TestHandleClick_RelativeCrossOriginAfterResolve(t *testing.T) {
	doc := parse(t, `<a id="a" href="//cdn.other.com/file?x=1">x</a>`)
	a := byID(doc, "a")

	assert.True(t, newHandler(t).HandleClick(context.Background(), ClickEvent{Target: a, PageURL: page}))
	assert.Equal(t, "https://privacydir.com/?https://cdn.other.com/file?x=1", href(t, a))
}

func TestHandleClick_StrayPercentHrefs(t *testing.T) {
	doc := parse(t, `<a id="abs" href="https://shop.example.org/50%off?utm_source=x">x</a><a id="rel" href="/50%off">y</a>`)
	c := newHandler(t)

	abs := byID(doc, "abs")
	assert.True(t, c.HandleClick(context.Background(), ClickEvent{Target: abs, PageURL: page}))
	assert.Equal(t, "https://privacydir.com/?https://shop.example.org/50%off?utm_source=x", href(t, abs))

	rel := byID(doc, "rel")
	assert.False(t, c.HandleClick(context.Background(), ClickEvent{Target: rel, PageURL: page}), "same origin")
	assert.Equal(t, "/50%off", href(t, rel))
}

func TestHandleClick_PageWithoutOrigin(t *testing.T) {
	doc := parse(t, `<a id="a" href="https://twitter.com/">x</a>`)
	a := byID(doc, "a")
	assert.False(t, newHandler(t).HandleClick(context.Background(), ClickEvent{Target: a, PageURL: "about:blank"}))
	assert.Equal(t, "https://twitter.com/", href(t, a))
}

func TestRewriteDocument(t *testing.T) {
	doc := parse(t, `<body>
		<a id="1" href="https://twitter.com/x">t</a>
		<a id="2" href="/local">l</a>
		<div><a id="3" href="https://news.example.org/?utm_source=x">n</a></div>
	</body>`)

	n := newHandler(t).RewriteDocument(context.Background(), doc, page)
	assert.Equal(t, 2, n)
	assert.Equal(t, "https://privacydir.com/?https://twitter.com/x", href(t, byID(doc, "1")))
	assert.Equal(t, "/local", href(t, byID(doc, "2")))
	assert.Equal(t, "https://privacydir.com/?https://news.example.org/?utm_source=x", href(t, byID(doc, "3")))
}

func TestRewriteHTML(t *testing.T) {
	var out bytes.Buffer
	n, err := newHandler(t).RewriteHTML(context.Background(), strings.NewReader(`<p><a href="https://twitter.com/">t</a></p>`), &out, page)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), `href="https://privacydir.com/?https://twitter.com/"`)
}

func TestClickHandler_Name(t *testing.T) {
	var src interceptor.NavigationSource = newHandler(t)
	assert.Equal(t, SourceName, src.Name())
}
