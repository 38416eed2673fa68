package codec

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Parsing limits. Inputs exceeding them are truncated, not rejected.
const (
	maxMarkupDepth = 32
	maxProperties  = 512
	maxMarkupBuf   = 64 << 10
)

// voidElements never get an end tag
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// item is one itemscope of the microdata IR
type item struct {
	itemType string
	props    []*property
}

// property is one itemprop. value comes from the content attribute when
// explicit is set, otherwise from the element's text.
type property struct {
	name     string
	value    string
	explicit bool
	kind     string
	item     *item
}

// document is the typed intermediate form produced by the tokenizer.
// loose holds properties found outside any itemscope.
type document struct {
	items []*item
	loose *item
}

// text returns the property value, trimming whitespace only for text content
func (p *property) text() string {
	if p.explicit {
		return p.value
	}
	return strings.TrimSpace(p.value)
}

func (it *item) first(name string) (*property, bool) {
	for _, p := range it.props {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

func (it *item) all(name string) []*property {
	var out []*property
	for _, p := range it.props {
		if p.name == name {
			out = append(out, p)
		}
	}
	return out
}

func (it *item) value(name string) (string, bool) {
	p, ok := it.first(name)
	if !ok {
		return "", false
	}
	return p.text(), true
}

// declaredType returns the $type$ property, if any
func (it *item) declaredType() (string, bool) {
	t, ok := it.value(typeProperty)
	return strings.TrimSpace(t), ok
}

const typeProperty = "$type$"

type frame struct {
	tag   string
	scope *item
	text  *property
}

// parseMarkup tokenizes data into the microdata IR. It never fails: malformed
// input yields whatever structure could be recovered, possibly nothing.
func parseMarkup(data []byte) *document {
	doc := &document{loose: &item{}}
	z := html.NewTokenizer(bytes.NewReader(data))
	z.SetMaxBuf(maxMarkupBuf)

	var stack []frame
	count := 0

	currentScope := func() *item {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].scope != nil {
				return stack[i].scope
			}
		}
		return nil
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return doc

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			attrs := make(map[string]string, len(tok.Attr))
			for _, a := range tok.Attr {
				attrs[a.Key] = a.Val
			}

			owner := currentScope()
			var prop *property
			if name, ok := attrs["itemprop"]; ok && count < maxProperties {
				prop = &property{name: name, kind: attrs["data-type"]}
				if content, ok := attrs["content"]; ok {
					prop.value = content
					prop.explicit = true
				}
				target := owner
				if target == nil {
					target = doc.loose
				}
				target.props = append(target.props, prop)
				count++
			}

			var scope *item
			if _, ok := attrs["itemscope"]; ok {
				scope = &item{itemType: attrs["itemtype"]}
				switch {
				case prop != nil:
					prop.item = scope
				case owner == nil:
					doc.items = append(doc.items, scope)
				}
			}

			if tt == html.SelfClosingTagToken || voidElements[tok.Data] {
				continue
			}
			if len(stack) >= maxMarkupDepth {
				return doc
			}
			f := frame{tag: tok.Data, scope: scope}
			if prop != nil && !prop.explicit && scope == nil {
				f.text = prop
			}
			stack = append(stack, f)

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].tag == tag {
					stack = stack[:i]
					break
				}
			}

		case html.TextToken:
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].text != nil {
					stack[i].text.value += string(z.Text())
					break
				}
				if stack[i].scope != nil {
					break
				}
			}
		}
	}
}

// escapeValue escapes the five reserved markup characters. Carriage returns are
// written as a character reference so the tokenizer's newline folding keeps them.
func escapeValue(s string) string {
	s = html.EscapeString(s)
	return strings.ReplaceAll(s, "\r", "&#13;")
}
