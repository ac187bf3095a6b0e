// Package codec walks a schema.Tree against a handler instance to
// serialize a response or deserialize a request payload, and binds a
// plain data record onto a handler's output fields by name.
package codec

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/typeconv"

	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/schema"
	"github.com/riftkeep/gamecore/wire"
)

// Serialize writes every node of nodes, in order, from the fields of v.
// List-typed fields are reset to an empty slice immediately after being
// written, so calling Serialize twice on the same handler instance without
// an intervening write yields an empty list the second time.
func Serialize(w *wire.Writer, nodes []*schema.Node, v reflect.Value) error {
	for _, n := range nodes {
		if err := serializeNode(w, n, n.Field(v)); err != nil {
			return errors.Wrapf(err, "serializing %s", n.Name)
		}
	}
	return nil
}

func serializeNode(w *wire.Writer, n *schema.Node, fv reflect.Value) error {
	switch n.Kind {
	case schema.KindList:
		return serializeList(w, n, fv)
	case schema.KindObject:
		return Serialize(w, n.Children, fv)
	default:
		return writeScalar(w, n.Kind, fv)
	}
}

func serializeList(w *wire.Writer, n *schema.Node, fv reflect.Value) error {
	length := fv.Len()
	w.WriteListLen(length)
	for i := 0; i < length; i++ {
		elem := fv.Index(i)
		if n.ElemKind == schema.KindObject {
			if err := Serialize(w, n.Children, elem); err != nil {
				return err
			}
		} else if err := writeScalar(w, n.ElemKind, elem); err != nil {
			return err
		}
	}
	// A fixed-size array field has no empty state to reset to; only a
	// growable slice is cleared for the handler instance's next reuse.
	if fv.Kind() != reflect.Array {
		fv.Set(reflect.MakeSlice(fv.Type(), 0, 0))
	}
	return nil
}

func writeScalar(w *wire.Writer, kind schema.ValueKind, fv reflect.Value) error {
	switch kind {
	case schema.KindBool:
		w.WriteBool(fv.Bool())
	case schema.KindU8:
		w.WriteU8(uint8(fv.Uint()))
	case schema.KindI8:
		w.WriteI8(int8(fv.Int()))
	case schema.KindU16:
		w.WriteU16(uint16(fv.Uint()))
	case schema.KindI16:
		w.WriteI16(int16(fv.Int()))
	case schema.KindU32:
		w.WriteU32(uint32(fv.Uint()))
	case schema.KindI32:
		w.WriteI32(int32(fv.Int()))
	case schema.KindU64:
		w.WriteU64(fv.Uint())
	case schema.KindI64:
		w.WriteI64(fv.Int())
	case schema.KindF32:
		w.WriteF32(float32(fv.Float()))
	case schema.KindF64:
		w.WriteF64(fv.Float())
	case schema.KindString:
		w.WriteString(fv.String())
	case schema.KindTimestamp:
		w.WriteTimestamp(fv.Interface().(time.Time))
	default:
		return errors.Errorf("unsupported scalar kind %v", kind)
	}
	return nil
}

// Deserialize reads every node of nodes, in order, into the fields of v.
// A slice field always gets a freshly allocated container and an array
// field is zeroed first: deserializing into a handler instance overwrites,
// it never appends to whatever the field held from a previous request.
func Deserialize(r *wire.Reader, nodes []*schema.Node, v reflect.Value) error {
	for _, n := range nodes {
		if err := deserializeNode(r, n, n.Field(v)); err != nil {
			return errors.Wrapf(err, "deserializing %s", n.Name)
		}
	}
	return nil
}

func deserializeNode(r *wire.Reader, n *schema.Node, fv reflect.Value) error {
	switch n.Kind {
	case schema.KindList:
		return deserializeList(r, n, fv)
	case schema.KindObject:
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		return Deserialize(r, n.Children, fv)
	default:
		return readScalar(r, n.Kind, fv)
	}
}

func deserializeList(r *wire.Reader, n *schema.Node, fv reflect.Value) error {
	length, err := r.ReadListLen()
	if err != nil {
		return err
	}

	var container reflect.Value
	if fv.Kind() == reflect.Array {
		if int(length) > fv.Len() {
			return errors.Errorf("list has %d elements, array field only holds %d", length, fv.Len())
		}
		// Overwrite, never append: zero the whole array first so slots
		// past length don't keep a previous request's values.
		fv.Set(reflect.Zero(fv.Type()))
		container = fv
	} else {
		container = reflect.MakeSlice(fv.Type(), int(length), int(length))
	}

	for i := 0; i < int(length); i++ {
		elem := container.Index(i)
		if n.ElemKind == schema.KindObject {
			if elem.Kind() == reflect.Ptr {
				elem.Set(reflect.New(elem.Type().Elem()))
			}
			if err := Deserialize(r, n.Children, elem); err != nil {
				return err
			}
		} else if err := readScalar(r, n.ElemKind, elem); err != nil {
			return err
		}
	}

	if fv.Kind() != reflect.Array {
		fv.Set(container)
	}
	return nil
}

func readScalar(r *wire.Reader, kind schema.ValueKind, fv reflect.Value) error {
	switch kind {
	case schema.KindBool:
		v, err := r.ReadBool()
		if err != nil {
			return err
		}
		fv.SetBool(v)
	case schema.KindU8:
		v, err := r.ReadU8()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
	case schema.KindI8:
		v, err := r.ReadI8()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
	case schema.KindU16:
		v, err := r.ReadU16()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
	case schema.KindI16:
		v, err := r.ReadI16()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
	case schema.KindU32:
		v, err := r.ReadU32()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
	case schema.KindI32:
		v, err := r.ReadI32()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
	case schema.KindU64:
		v, err := r.ReadU64()
		if err != nil {
			return err
		}
		fv.SetUint(v)
	case schema.KindI64:
		v, err := r.ReadI64()
		if err != nil {
			return err
		}
		fv.SetInt(v)
	case schema.KindF32:
		v, err := r.ReadF32()
		if err != nil {
			return err
		}
		fv.SetFloat(float64(v))
	case schema.KindF64:
		v, err := r.ReadF64()
		if err != nil {
			return err
		}
		fv.SetFloat(v)
	case schema.KindString:
		v, err := r.ReadString()
		if err != nil {
			return err
		}
		fv.SetString(v)
	case schema.KindTimestamp:
		v, err := r.ReadTimestamp()
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(v))
	default:
		return errors.Errorf("unsupported scalar kind %v", kind)
	}
	return nil
}

// Bind copies src's fields onto v's output nodes by matching field name.
// A destination node whose name is absent on src is left untouched,
// logged at debug level, and reported in the returned skipped names.
func Bind(nodes []*schema.Node, v reflect.Value, src interface{}) (skipped []string) {
	srcVal := reflect.ValueOf(src)
	if srcVal.Kind() == reflect.Ptr {
		srcVal = srcVal.Elem()
	}
	for _, n := range nodes {
		sf := srcVal.FieldByName(n.Name)
		if !sf.IsValid() {
			corelog.Debugf("codec: bind skipped %s: no such field on %s", n.Name, srcVal.Type())
			skipped = append(skipped, n.Name)
			continue
		}
		dst := n.Field(v)
		if n.Kind == schema.KindObject {
			skipped = append(skipped, Bind(n.Children, dst, sf.Interface())...)
			continue
		}
		if n.Kind == schema.KindList && n.ElemKind == schema.KindObject {
			bindObjectList(n, dst, sf)
			continue
		}
		coerced := typeconv.Convert(sf.Interface(), dst.Type())
		dst.Set(coerced)
	}
	return skipped
}

func bindObjectList(n *schema.Node, dst reflect.Value, src reflect.Value) {
	length := src.Len()
	if dst.Kind() == reflect.Array {
		for i := 0; i < length && i < dst.Len(); i++ {
			Bind(n.Children, dst.Index(i), src.Index(i).Interface())
		}
		return
	}
	slice := reflect.MakeSlice(dst.Type(), length, length)
	for i := 0; i < length; i++ {
		Bind(n.Children, slice.Index(i), src.Index(i).Interface())
	}
	dst.Set(slice)
}
