// Package schema builds the ordered parameter tree the codec walks to
// serialize or deserialize a handler's input or output fields. Trees are
// derived once per handler type (via struct tags) and cached, mirroring
// how the reference request server derives its per-handler RPC
// descriptor once from method reflection and reuses it for every call.
package schema

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Direction is which half of a request a parameter belongs to.
type Direction uint8

const (
	In Direction = iota
	Out
)

// ValueKind is the wire representation of a parameter node.
type ValueKind uint8

const (
	KindBool ValueKind = iota
	KindU8
	KindI8
	KindU16
	KindI16
	KindU32
	KindI32
	KindU64
	KindI64
	KindF32
	KindF64
	KindString
	KindTimestamp
	KindObject
	KindList
)

// EnumKind is implemented by named integer types used as parameters so
// the schema builder knows which scalar kind they serialize as. A field
// whose type implements EnumKind is treated as a leaf carrying its
// underlying integer codec.
type EnumKind interface {
	WireKind() ValueKind
}

// Node is one entry of a handler's parameter tree.
type Node struct {
	Name      string
	Index     int
	Direction Direction
	Kind      ValueKind
	ElemKind  ValueKind // valid when Kind == KindList
	Children  []*Node   // populated for KindObject, and for KindList when ElemKind == KindObject
	fieldPath []int     // reflect.Value.FieldByIndex path from the owning struct
}

// Tree is the built input and output parameter trees for one handler type.
type Tree struct {
	Type   reflect.Type
	Input  []*Node
	Output []*Node
}

var (
	cacheMu sync.Mutex
	cache   = map[reflect.Type]*Tree{}

	timeType = reflect.TypeOf(time.Time{})
)

// tagged is the parsed form of a `param:"idx,dir"` struct tag.
type tagged struct {
	index int
	dir   Direction
}

func parseTag(tag string) (tagged, bool, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "-" {
		return tagged{}, false, nil
	}
	parts := strings.Split(tag, ",")
	if len(parts) != 2 {
		return tagged{}, false, errors.Errorf("param tag %q: want \"index,dir\"", tag)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return tagged{}, false, errors.Wrapf(err, "param tag %q: bad index", tag)
	}
	var dir Direction
	switch strings.TrimSpace(parts[1]) {
	case "in":
		dir = In
	case "out":
		dir = Out
	default:
		return tagged{}, false, errors.Errorf("param tag %q: dir must be in or out", tag)
	}
	return tagged{index: idx, dir: dir}, true, nil
}

// Build derives the parameter tree for handler type t, caching the
// result. t must be a struct type (never a pointer).
func Build(t reflect.Type) (*Tree, error) {
	cacheMu.Lock()
	if tr, ok := cache[t]; ok {
		cacheMu.Unlock()
		return tr, nil
	}
	cacheMu.Unlock()

	var in, out []*Node
	if err := collectFields(t, nil, &in, &out); err != nil {
		return nil, errors.Wrapf(err, "building parameter tree for %s", t)
	}
	sortNodes(in)
	sortNodes(out)

	tr := &Tree{Type: t, Input: in, Output: out}

	cacheMu.Lock()
	cache[t] = tr
	cacheMu.Unlock()
	return tr, nil
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
}

func collectFields(t reflect.Type, prefix []int, in, out *[]*Node) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		tag, ok, err := parseTag(f.Tag.Get("param"))
		if err != nil {
			return err
		}
		if !ok {
			// An anonymous field with no param tag of its own promotes
			// its tagged fields into this level, the schema counterpart
			// to Go's own field promotion — handler.PagedListHandler
			// relies on this to contribute its synthetic paging fields
			// to whatever concrete handler embeds it.
			if f.Anonymous {
				ft := f.Type
				if ft.Kind() == reflect.Ptr {
					ft = ft.Elem()
				}
				if ft.Kind() == reflect.Struct {
					if err := collectFields(ft, append(append([]int{}, prefix...), i), in, out); err != nil {
						return err
					}
				}
			}
			continue
		}
		path := append(append([]int{}, prefix...), i)
		node, err := buildNode(f.Name, f.Type, tag, path)
		if err != nil {
			return errors.Wrapf(err, "field %s", f.Name)
		}
		if tag.dir == In {
			*in = append(*in, node)
		} else {
			*out = append(*out, node)
		}
	}
	return nil
}

func buildNode(name string, ft reflect.Type, tag tagged, path []int) (*Node, error) {
	node := &Node{Name: name, Index: tag.index, Direction: tag.dir, fieldPath: path}

	kind, elemType, err := classify(ft)
	if err != nil {
		return nil, err
	}
	node.Kind = kind

	switch kind {
	case KindObject:
		children, err := objectChildren(ft, tag.dir)
		if err != nil {
			return nil, err
		}
		node.Children = children
	case KindList:
		elemKind, elemElemType, err := classify(elemType)
		if err != nil {
			return nil, err
		}
		node.ElemKind = elemKind
		if elemKind == KindObject {
			children, err := objectChildren(elemType, tag.dir)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		_ = elemElemType // lists of lists are not part of this wire format
	}
	return node, nil
}

// objectChildren builds the ordered children of a nested object node,
// reusing the same direction for every leaf (an object parameter is
// wholly input or wholly output; it cannot mix).
func objectChildren(t reflect.Type, dir Direction) ([]*Node, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var in, out []*Node
	if err := collectFields(t, nil, &in, &out); err != nil {
		return nil, err
	}
	var children []*Node
	if dir == In {
		children = in
	} else {
		children = out
	}
	if len(children) == 0 {
		// nested objects need not repeat direction tags on every leaf;
		// fall back to tagging by position order (index ascending across
		// both slices) when the caller only ever tagged one direction.
		children = append(append([]*Node{}, in...), out...)
	}
	sortNodes(children)
	return children, nil
}

// classify resolves the wire kind of a Go type, and for list/array types
// also returns the element type.
func classify(t reflect.Type) (ValueKind, reflect.Type, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == timeType {
		return KindTimestamp, nil, nil
	}

	if ek := enumKindOf(t); ek != nil {
		return ek.WireKind(), nil, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return KindBool, nil, nil
	case reflect.Uint8:
		return KindU8, nil, nil
	case reflect.Int8:
		return KindI8, nil, nil
	case reflect.Uint16:
		return KindU16, nil, nil
	case reflect.Int16:
		return KindI16, nil, nil
	case reflect.Uint32:
		return KindU32, nil, nil
	case reflect.Int32:
		return KindI32, nil, nil
	case reflect.Uint64, reflect.Uint:
		return KindU64, nil, nil
	case reflect.Int64, reflect.Int:
		return KindI64, nil, nil
	case reflect.Float32:
		return KindF32, nil, nil
	case reflect.Float64:
		return KindF64, nil, nil
	case reflect.String:
		return KindString, nil, nil
	case reflect.Slice, reflect.Array:
		return KindList, t.Elem(), nil
	case reflect.Struct:
		return KindObject, nil, nil
	default:
		return 0, nil, errors.Errorf("unsupported parameter type %s", t)
	}
}

// enumKindOf checks whether t (or *t) implements EnumKind without
// requiring an addressable value.
func enumKindOf(t reflect.Type) EnumKind {
	zero := reflect.Zero(t).Interface()
	if ek, ok := zero.(EnumKind); ok {
		return ek
	}
	if reflect.PtrTo(t).Implements(reflect.TypeOf((*EnumKind)(nil)).Elem()) {
		ptr := reflect.New(t)
		return ptr.Interface().(EnumKind)
	}
	return nil
}

// Field returns the reflect.Value this node corresponds to on the given
// struct value (or pointer to it).
func (n *Node) Field(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.FieldByIndex(n.fieldPath)
}
