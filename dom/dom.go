// Package dom describes the host element tree the hydration engine reads and
// mutates, and provides an implementation of it on top of golang.org/x/net/html.
//
// The engine never reaches past the Element interface, so any host that can
// store attributes, properties, class lists and listeners can be hydrated.
package dom

import (
	"fmt"
	"strconv"
)

// Attribute is a single name/value pair on an element.
type Attribute struct {
	Name  string
	Value string
}

// Event is delivered to listeners registered with AddEventListener.
type Event struct {
	Type   string
	Target Element
	Value  any
	Detail map[string]any
}

// Listener receives dispatched events.
type Listener func(evt *Event)

// ClassList is the mutable set of CSS classes of an element.
type ClassList interface {
	Add(name string)
	Remove(name string)
	Contains(name string) bool
	Values() []string
}

// Element is the capability the engine needs from a host element.
type Element interface {
	TagName() string

	Attr(name string) (string, bool)
	HasAttr(name string) bool
	SetAttr(name, value string)
	RemoveAttr(name string)
	// Attrs returns a snapshot of the attributes in document order.
	Attrs() []Attribute

	// Parent returns nil for detached elements and for the document root.
	Parent() Element
	// Children returns the element children only, text nodes are skipped.
	Children() []Element
	AppendChild(child Element)
	Remove()
	// Clone deep copies attributes, properties and children. Listeners and
	// handles stay with the original.
	Clone() Element
	SetTextContent(text string)
	ClassList() ClassList

	Property(name string) (any, bool)
	SetProperty(name string, value any)

	AddEventListener(event string, fn Listener)
	Dispatch(evt *Event)

	// Handle and SetHandle store host-opaque values on the element, the way a
	// script would attach an expando property.
	Handle(name string) any
	SetHandle(name string, value any)
}

// Property names with special meaning.
const (
	InnerText   = "innerText"
	TextContent = "textContent"
	InnerHTML   = "innerHTML"
)

// Stringify renders a property value the way it would appear in markup.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
