// Package rss is a streaming parser for RSS 2.0 and the loose dialects that
// news publishers actually serve.
package rss

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"

	"github.com/TobiSchelling/newsreader/internal/normalize"
)

// Item is a raw feed entry before it is mapped to an article.
type Item struct {
	Title       string
	Link        string
	Description string
	ImageURL    string
	PubDate     string
	GUID        string
	Category    string
	Author      string
}

// Channel holds feed-level metadata.
type Channel struct {
	Title       string
	Link        string
	Description string
	ImageURL    string
}

// Feed is the result of a parse: channel metadata plus items in document order.
type Feed struct {
	Channel Channel
	Items   []Item
}

// ParseError reports a structurally broken feed document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNoRoot = errors.New("no root element")

// Parse reads a feed document. Items without a title are dropped; any XML
// syntax error, including a mismatched end tag, aborts the whole parse with
// a *ParseError. HTML named entities are accepted.
func Parse(r io.Reader) (*Feed, error) {
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	p := xpp.NewXMLPullParser(bytes.NewReader(mapHTMLEntities(doc)), true, charset.NewReaderLabel)
	st := &parseState{}

	for {
		event, err := p.Next()
		if err != nil {
			return nil, &ParseError{Err: err}
		}

		switch event {
		case xpp.StartTag:
			st.start(p)
		case xpp.Text:
			st.text.WriteString(p.Text)
		case xpp.EndTag:
			st.end(p)
		case xpp.EndDocument:
			if !st.sawRoot {
				return nil, &ParseError{Err: errNoRoot}
			}
			if len(st.stack) > 0 {
				return nil, &ParseError{Err: io.ErrUnexpectedEOF}
			}
			return &Feed{Channel: st.channel, Items: st.items}, nil
		}
	}
}

// parseState tracks the three parsing contexts: outside any item, inside the
// channel and inside an item.
type parseState struct {
	stack   []string
	text    strings.Builder
	sawRoot bool

	channel       Channel
	inChannel     bool
	inItem        bool
	item          *Item
	itemImageText string
	items         []Item
}

func (st *parseState) start(p *xpp.XMLPullParser) {
	st.sawRoot = true
	name := strings.ToLower(p.Name)
	ns := namespaceOf(p.Space)
	st.stack = append(st.stack, ns+":"+name)
	st.text.Reset()

	switch {
	case ns == "" && name == "item":
		st.inItem = true
		st.item = &Item{}
		st.itemImageText = ""
	case ns == "" && name == "channel":
		st.inChannel = true
	case st.inItem:
		st.itemMedia(p, ns, name)
	}
}

// itemMedia applies the attribute-carried image sources. The first accepted
// source wins.
func (st *parseState) itemMedia(p *xpp.XMLPullParser, ns, name string) {
	if st.item.ImageURL != "" {
		return
	}
	url, _ := attr(p, "url")
	if url == "" {
		return
	}

	switch {
	case ns == "" && name == "enclosure":
		typ, ok := attr(p, "type")
		if !ok || strings.HasPrefix(typ, "image/") {
			st.item.ImageURL = url
		}
	case ns == "media" && name == "content":
		medium, hasMedium := attr(p, "medium")
		typ, _ := attr(p, "type")
		if !hasMedium || medium == "image" || strings.HasPrefix(typ, "image/") {
			st.item.ImageURL = url
		}
	case ns == "media" && name == "thumbnail":
		st.item.ImageURL = url
	}
}

func (st *parseState) end(p *xpp.XMLPullParser) {
	// goxpp leaves Space empty on end tags; the namespace comes from the
	// matching start tag.
	ns, name := "", strings.ToLower(p.Name)
	if n := len(st.stack); n > 0 {
		ns, name = splitTag(st.stack[n-1])
		st.stack = st.stack[:n-1]
	}
	value := strings.TrimSpace(st.text.String())
	st.text.Reset()

	parent := ""
	if n := len(st.stack); n > 0 {
		parent = st.stack[n-1]
	}

	switch {
	case ns == "" && name == "item":
		st.closeItem()
	case ns == "" && name == "channel":
		st.inChannel = false
	case st.inItem:
		st.itemField(ns, name, value)
	case st.inChannel:
		st.channelField(ns, name, parent, value)
	}
}

func (st *parseState) closeItem() {
	if st.item == nil {
		return
	}
	it := st.item
	if it.ImageURL == "" {
		it.ImageURL = imageFromHTML(it.Description)
	}
	if it.ImageURL == "" && strings.HasPrefix(st.itemImageText, "http") {
		it.ImageURL = st.itemImageText
	}
	if it.Title != "" {
		st.items = append(st.items, *it)
	}
	st.item = nil
	st.inItem = false
}

func (st *parseState) itemField(ns, name, value string) {
	it := st.item
	switch {
	case ns == "" && name == "title":
		if strings.Contains(value, "&") {
			value = normalize.StripMarkup(value)
		}
		it.Title = value
	case ns == "" && name == "link":
		it.Link = value
	case ns == "" && name == "description":
		it.Description = value
	case ns == "" && name == "pubdate":
		it.PubDate = value
	case ns == "" && name == "category":
		it.Category = value
	case ns == "" && name == "guid":
		it.GUID = value
	case ns == "" && name == "author", ns == "dc" && name == "creator":
		it.Author = value
	case ns == "" && name == "image":
		if st.itemImageText == "" {
			st.itemImageText = value
		}
	}
}

func (st *parseState) channelField(ns, name, parent, value string) {
	if ns != "" {
		return
	}
	switch parent {
	case ":channel":
		switch name {
		case "title":
			st.channel.Title = value
		case "link":
			st.channel.Link = value
		case "description":
			st.channel.Description = value
		}
	case ":image":
		if name == "url" {
			st.channel.ImageURL = value
		}
	}
}

// splitTag splits a stack entry into namespace and local name. The
// namespace may itself contain colons when it is an unrecognized URI.
func splitTag(tag string) (ns, name string) {
	i := strings.LastIndexByte(tag, ':')
	return tag[:i], tag[i+1:]
}

// attr reports an attribute value and whether the attribute was present.
func attr(p *xpp.XMLPullParser, name string) (string, bool) {
	for _, a := range p.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value), true
		}
	}
	return "", false
}

// namespaceOf maps a prefix or namespace URI to a short extension name.
// Core RSS elements, including ones in an RSS 1.0 default namespace, map to "".
func namespaceOf(space string) string {
	s := strings.ToLower(space)
	switch {
	case s == "":
		return ""
	case s == "media" || strings.Contains(s, "search.yahoo.com/mrss"):
		return "media"
	case s == "dc" || strings.Contains(s, "purl.org/dc/elements"):
		return "dc"
	case s == "atom" || strings.Contains(s, "www.w3.org/2005/atom"):
		return "atom"
	case s == "content" || strings.Contains(s, "purl.org/rss/1.0/modules/content"):
		return "content"
	case strings.Contains(s, "purl.org/rss/1.0") || strings.Contains(s, "backend.userland.com/rss"):
		return ""
	default:
		return s
	}
}
