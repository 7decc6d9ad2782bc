package expr

import (
	"fmt"
	"math/big"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"
)

type rawer interface {
	Raw() map[string]any
}

var null = cty.NullVal(cty.DynamicPseudoType)

// ToCty converts a scope value. Functions are not values and convert to null,
// members holding functions are dropped from objects.
func ToCty(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return null, nil
	case cty.Value:
		return x, nil
	case function.Function:
		return null, nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int32:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case uint:
		return cty.NumberUIntVal(uint64(x)), nil
	case uint64:
		return cty.NumberUIntVal(x), nil
	case float32:
		return cty.NumberFloatVal(float64(x)), nil
	case float64:
		return cty.NumberFloatVal(x), nil
	case map[string]any:
		return objectVal(x)
	case rawer:
		return objectVal(x.Raw())
	case []any:
		return tupleVal(x)
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return tupleVal(items)
	case dom.Element:
		return ElementValue(x), nil
	}

	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty type of %T: %w", v, err)
	}
	return gocty.ToCtyValue(v, ty)
}

func objectVal(m map[string]any) (cty.Value, error) {
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		if _, ok := v.(function.Function); ok {
			continue
		}
		cv, err := ToCty(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%s: %w", k, err)
		}
		attrs[k] = cv
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

func tupleVal(items []any) (cty.Value, error) {
	if len(items) == 0 {
		return cty.EmptyTupleVal, nil
	}
	vals := make([]cty.Value, len(items))
	for i, item := range items {
		cv, err := ToCty(item)
		if err != nil {
			return cty.NilVal, fmt.Errorf("[%d]: %w", i, err)
		}
		vals[i] = cv
	}
	return cty.TupleVal(vals), nil
}

// FromCty converts a result back to plain Go values: nil, string, bool, int,
// float64, map[string]any and []any. Unknown values convert to nil.
func FromCty(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	v, _ = v.Unmark()
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString(), nil
	case ty.Equals(cty.Bool):
		return v.True(), nil
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := map[string]any{}
		for k, ev := range v.AsValueMap() {
			gv, err := FromCty(ev)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = gv
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for i, ev := range v.AsValueSlice() {
			gv, err := FromCty(ev)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, gv)
		}
		return out, nil
	case ty.IsCapsuleType():
		return v.EncapsulatedValue(), nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

// ElementValue exposes an element as an object with tag, id, text, value,
// attrs and classes attributes.
func ElementValue(el dom.Element) cty.Value {
	if el == nil {
		return null
	}
	attrs := map[string]cty.Value{}
	id := ""
	for _, a := range el.Attrs() {
		attrs[a.Name] = cty.StringVal(a.Value)
		if a.Name == "id" {
			id = a.Value
		}
	}
	attrsVal := cty.EmptyObjectVal
	if len(attrs) > 0 {
		attrsVal = cty.ObjectVal(attrs)
	}

	classes := el.ClassList().Values()
	classesVal := cty.EmptyTupleVal
	if len(classes) > 0 {
		vals := make([]cty.Value, len(classes))
		for i, c := range classes {
			vals[i] = cty.StringVal(c)
		}
		classesVal = cty.TupleVal(vals)
	}

	text, _ := el.Property(dom.InnerText)
	value, _ := el.Property("value")
	valueVal, err := ToCty(value)
	if err != nil {
		valueVal = cty.StringVal(dom.Stringify(value))
	}

	return cty.ObjectVal(map[string]cty.Value{
		"tag":     cty.StringVal(el.TagName()),
		"id":      cty.StringVal(id),
		"text":    cty.StringVal(dom.Stringify(text)),
		"value":   valueVal,
		"attrs":   attrsVal,
		"classes": classesVal,
	})
}

// EventValue exposes an event as an object with type, value, detail and
// target attributes.
func EventValue(evt *dom.Event) cty.Value {
	if evt == nil {
		return null
	}
	value, err := ToCty(evt.Value)
	if err != nil {
		value = cty.StringVal(dom.Stringify(evt.Value))
	}
	detail, err := objectVal(evt.Detail)
	if err != nil {
		detail = cty.EmptyObjectVal
	}
	return cty.ObjectVal(map[string]cty.Value{
		"type":   cty.StringVal(evt.Type),
		"value":  value,
		"detail": detail,
		"target": ElementValue(evt.Target),
	})
}
