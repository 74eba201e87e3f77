package sandbox

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const blankPage = "<html><head></head><body></body></html>"

// fragmentPolicy cleans markup assigned through innerHTML. Inserted scripts
// never run, so they are stripped along with event handler attributes.
var fragmentPolicy = bluemonday.UGCPolicy()

// DOM provides a document proxy over the loaded page for sandboxed JavaScript
type DOM struct {
	doc     *goquery.Document
	changes []DOMChange
}

// NewDOM wraps a parsed page. A nil document yields an empty page.
func NewDOM(doc *goquery.Document) *DOM {
	if doc == nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(blankPage))
	}
	return &DOM{doc: doc}
}

// Query finds elements matching a CSS selector
func (d *DOM) Query(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Changes returns the modifications scripts made
func (d *DOM) Changes() []DOMChange {
	return append([]DOMChange{}, d.changes...)
}

// Evaluate runs an XPath expression against the page
func (d *DOM) Evaluate(expr string) ([]*html.Node, error) {
	if len(d.doc.Nodes) == 0 {
		return nil, nil
	}
	nodes, err := htmlquery.QueryAll(d.doc.Nodes[0], expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// SetHTML replaces the children of sel with sanitized markup and returns
// what was inserted
func (d *DOM) SetHTML(sel *goquery.Selection, markup string) string {
	clean := fragmentPolicy.Sanitize(markup)
	sel.SetHtml(clean)
	d.record(DOMChange{Type: "set_html", Selector: selectorFor(sel), Property: "innerHTML", Value: clean})
	return clean
}

func (d *DOM) record(change DOMChange) {
	d.changes = append(d.changes, change)
}

// selectorFor names an element for change records
func selectorFor(sel *goquery.Selection) string {
	if id, ok := sel.Attr("id"); ok && id != "" {
		return "#" + id
	}
	return goquery.NodeName(sel)
}

// document builds the document global of page p
func (r *Runtime) document(p *page) *goja.Object {
	vm := p.vm
	dom := p.dom

	document := vm.NewObject()
	document.Set("URL", p.url)
	document.Set("title", p.doc.Title)
	document.Set("characterSet", strings.ToUpper(p.doc.CharacterSet))
	document.Set("contentType", p.doc.MIME)
	document.Set("readyState", "complete")

	root := dom.doc.Selection
	document.Set("querySelector", makeQueryFunc(vm, dom, root, false))
	document.Set("querySelectorAll", makeQueryFunc(vm, dom, root, true))
	document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		sel := root.Find("[id=\"" + call.Argument(0).String() + "\"]").First()
		return elementValue(vm, dom, sel)
	})
	document.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		classes := strings.Fields(call.Argument(0).String())
		if len(classes) == 0 {
			return vm.ToValue([]interface{}{})
		}
		return elementList(vm, dom, root.Find("."+strings.Join(classes, ".")))
	})
	document.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return elementList(vm, dom, root.Find(call.Argument(0).String()))
	})
	// evaluate returns element proxies for element matches and text for
	// attribute or text matches
	document.Set("evaluate", func(call goja.FunctionCall) goja.Value {
		nodes, err := dom.Evaluate(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		results := make([]interface{}, 0, len(nodes))
		for _, n := range nodes {
			if n.Type == html.ElementNode && n.Parent != nil {
				results = append(results, elementValue(vm, dom, dom.doc.FindNodes(n)))
				continue
			}
			results = append(results, htmlquery.InnerText(n))
		}
		return vm.NewArray(results...)
	})

	if body := root.Find("body").First(); body.Length() > 0 {
		document.Set("body", elementValue(vm, dom, body))
	}
	if head := root.Find("head").First(); head.Length() > 0 {
		document.Set("head", elementValue(vm, dom, head))
	}
	if html := root.Find("html").First(); html.Length() > 0 {
		document.Set("documentElement", elementValue(vm, dom, html))
	}
	return document
}

// makeQueryFunc creates querySelector or querySelectorAll scoped to within
func makeQueryFunc(vm *goja.Runtime, dom *DOM, within *goquery.Selection, all bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		found := within.Find(call.Argument(0).String())
		if all {
			return elementList(vm, dom, found)
		}
		return elementValue(vm, dom, found.First())
	}
}

func elementList(vm *goja.Runtime, dom *DOM, sel *goquery.Selection) goja.Value {
	elements := make([]interface{}, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, elementValue(vm, dom, s))
	})
	return vm.NewArray(elements...)
}

// elementValue creates a proxy for a single element, or null
func elementValue(vm *goja.Runtime, dom *DOM, sel *goquery.Selection) goja.Value {
	if sel.Length() == 0 {
		return goja.Null()
	}

	elem := vm.NewObject()
	elem.Set("tagName", strings.ToUpper(goquery.NodeName(sel)))
	elem.Set("id", sel.AttrOr("id", ""))
	elem.Set("className", sel.AttrOr("class", ""))
	elem.DefineAccessorProperty("textContent",
		vm.ToValue(func(goja.FunctionCall) goja.Value {
			return vm.ToValue(sel.Text())
		}),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			text := call.Argument(0).String()
			sel.SetText(text)
			dom.record(DOMChange{Type: "set_text", Selector: selectorFor(sel), Property: "textContent", Value: text})
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	elem.DefineAccessorProperty("innerHTML",
		vm.ToValue(func(goja.FunctionCall) goja.Value {
			markup, _ := sel.Html()
			return vm.ToValue(markup)
		}),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			dom.SetHTML(sel, call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	elem.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if value, ok := sel.Attr(call.Argument(0).String()); ok {
			return vm.ToValue(value)
		}
		return goja.Null()
	})
	elem.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		name, value := call.Argument(0).String(), call.Argument(1).String()
		sel.SetAttr(name, value)
		dom.record(DOMChange{Type: "set_attribute", Selector: selectorFor(sel), Property: name, Value: value})
		return goja.Undefined()
	})
	elem.Set("querySelector", makeQueryFunc(vm, dom, sel, false))
	elem.Set("querySelectorAll", makeQueryFunc(vm, dom, sel, true))
	return elem
}
