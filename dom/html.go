package dom

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Document owns a parsed html tree and the per-node state (properties,
// listeners, handles) that markup itself cannot hold.
type Document struct {
	root  *html.Node
	nodes map[*html.Node]*Node
}

// Node is the Element implementation backed by an *html.Node.
type Node struct {
	doc       *Document
	n         *html.Node
	props     map[string]any
	listeners map[string][]Listener
	handles   map[string]any
}

var _ Element = (*Node)(nil)

// Parse reads a full html document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root, nodes: map[*html.Node]*Node{}}, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// NewDocument returns an empty document with html, head and body elements.
func NewDocument() *Document {
	doc, err := ParseString("<!DOCTYPE html><html><head></head><body></body></html>")
	if err != nil {
		panic(err)
	}
	return doc
}

// CreateElement returns a detached element owned by the document.
func (d *Document) CreateElement(tag string) *Node {
	return d.wrap(&html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)})
}

// Body returns the body element.
func (d *Document) Body() *Node {
	if n := find(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "body"
	}); n != nil {
		return d.wrap(n)
	}
	return nil
}

// ByID returns the first element with the given id, or nil.
func (d *Document) ByID(id string) *Node {
	n := find(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := attr(n, "id")
		return ok && v == id
	})
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

// Render writes the whole document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Render writes the outer markup of an element.
func Render(w io.Writer, el Element) error {
	n, ok := el.(*Node)
	if !ok {
		return fmt.Errorf("render: unsupported element %T", el)
	}
	return html.Render(w, n.n)
}

// OuterHTML renders an element to a string, returning "" on failure.
func OuterHTML(el Element) string {
	var buf bytes.Buffer
	if err := Render(&buf, el); err != nil {
		return ""
	}
	return buf.String()
}

func (d *Document) wrap(n *html.Node) *Node {
	if node, ok := d.nodes[n]; ok {
		return node
	}
	node := &Node{doc: d, n: n}
	d.nodes[n] = node
	return node
}

func (e *Node) TagName() string { return e.n.Data }

func (e *Node) Attr(name string) (string, bool) { return attr(e.n, name) }

func (e *Node) HasAttr(name string) bool {
	_, ok := attr(e.n, name)
	return ok
}

func (e *Node) SetAttr(name, value string) {
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr[i].Val = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
}

func (e *Node) RemoveAttr(name string) {
	e.n.Attr = slices.DeleteFunc(e.n.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && a.Key == name
	})
}

func (e *Node) Attrs() []Attribute {
	attrs := make([]Attribute, 0, len(e.n.Attr))
	for _, a := range e.n.Attr {
		attrs = append(attrs, Attribute{Name: a.Key, Value: a.Val})
	}
	return attrs
}

func (e *Node) Parent() Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *Node) Children() []Element {
	var children []Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			children = append(children, e.doc.wrap(c))
		}
	}
	return children
}

// AppendChild moves child under e. It panics when child belongs to another
// Element implementation.
func (e *Node) AppendChild(child Element) {
	c, ok := child.(*Node)
	if !ok {
		panic(fmt.Sprintf("dom: cannot append %T to *dom.Node", child))
	}
	if c.n.Parent != nil {
		c.n.Parent.RemoveChild(c.n)
	}
	e.n.AppendChild(c.n)
}

func (e *Node) Remove() {
	if e.n.Parent != nil {
		e.n.Parent.RemoveChild(e.n)
	}
}

func (e *Node) Clone() Element {
	return e.doc.wrap(e.doc.clone(e.n))
}

func (d *Document) clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      slices.Clone(n.Attr),
	}
	if src, ok := d.nodes[n]; ok && len(src.props) > 0 {
		dst := d.wrap(c)
		dst.props = make(map[string]any, len(src.props))
		for k, v := range src.props {
			dst.props[k] = v
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(d.clone(ch))
	}
	return c
}

func (e *Node) SetTextContent(text string) {
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		c = next
	}
	if text != "" {
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (e *Node) textContent() string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return sb.String()
}

func (e *Node) innerHTML() string {
	var buf bytes.Buffer
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

func (e *Node) setInnerHTML(markup string) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.n)
	if err != nil {
		e.SetTextContent(markup)
		return
	}
	e.SetTextContent("")
	for _, n := range nodes {
		e.n.AppendChild(n)
	}
}

func (e *Node) Property(name string) (any, bool) {
	switch name {
	case InnerText, TextContent:
		return e.textContent(), true
	case InnerHTML:
		return e.innerHTML(), true
	}
	if v, ok := e.props[name]; ok {
		return v, true
	}
	if v, ok := e.Attr(name); ok {
		return v, true
	}
	return nil, false
}

// SetProperty stores the value and reflects it onto the attribute of the same
// name: true sets an empty attribute, false and nil remove it.
func (e *Node) SetProperty(name string, value any) {
	switch name {
	case InnerText, TextContent:
		e.SetTextContent(Stringify(value))
		return
	case InnerHTML:
		e.setInnerHTML(Stringify(value))
		return
	}
	if e.props == nil {
		e.props = map[string]any{}
	}
	e.props[name] = value
	switch v := value.(type) {
	case nil:
		e.RemoveAttr(name)
	case bool:
		if v {
			e.SetAttr(name, "")
		} else {
			e.RemoveAttr(name)
		}
	default:
		e.SetAttr(name, Stringify(v))
	}
}

func (e *Node) AddEventListener(event string, fn Listener) {
	if e.listeners == nil {
		e.listeners = map[string][]Listener{}
	}
	e.listeners[event] = append(e.listeners[event], fn)
}

// Dispatch delivers evt to the listeners of e in registration order. Events
// do not bubble.
func (e *Node) Dispatch(evt *Event) {
	if evt.Target == nil {
		evt.Target = e
	}
	for _, fn := range slices.Clone(e.listeners[evt.Type]) {
		fn(evt)
	}
}

func (e *Node) Handle(name string) any { return e.handles[name] }

func (e *Node) SetHandle(name string, value any) {
	if e.handles == nil {
		e.handles = map[string]any{}
	}
	e.handles[name] = value
}

func (e *Node) ClassList() ClassList { return classList{e} }

type classList struct{ e *Node }

func (c classList) Values() []string {
	v, _ := c.e.Attr("class")
	return strings.Fields(v)
}

func (c classList) Contains(name string) bool {
	return slices.Contains(c.Values(), name)
}

func (c classList) Add(name string) {
	values := c.Values()
	if slices.Contains(values, name) {
		return
	}
	c.e.SetAttr("class", strings.Join(append(values, name), " "))
}

func (c classList) Remove(name string) {
	values := c.Values()
	if !slices.Contains(values, name) {
		return
	}
	values = slices.DeleteFunc(values, func(v string) bool { return v == name })
	c.e.SetAttr("class", strings.Join(values, " "))
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}
