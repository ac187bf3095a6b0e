package codec_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/codec"
	"github.com/riftkeep/gamecore/schema"
	"github.com/riftkeep/gamecore/wire"
)

type item struct {
	ID   uint64 `param:"1,out"`
	Name string `param:"2,out"`
}

type listPayload struct {
	Items []item `param:"1,out"`
}

// reorderedIn declares the same two input fields as scalarIn but in the
// opposite source order, to exercise order-independence of index values.
type scalarIn struct {
	Name string `param:"2,in"`
	ID   uint32 `param:"1,in"`
}

type reorderedIn struct {
	ID   uint32 `param:"1,in"`
	Name string `param:"2,in"`
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(listPayload{}))
	require.NoError(t, err)

	src := listPayload{Items: []item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}
	w := wire.NewWriter()
	require.NoError(t, codec.Serialize(w, tree.Output, reflect.ValueOf(&src).Elem()))
	require.Empty(t, src.Items, "list field must be cleared after serialize")

	var dst listPayload
	r := wire.NewReader(w.Bytes())
	require.NoError(t, codec.Deserialize(r, tree.Output, reflect.ValueOf(&dst).Elem()))
	require.Equal(t, []item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, dst.Items)
}

func TestSerializeTwiceYieldsEmptyList(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(listPayload{}))
	require.NoError(t, err)

	src := listPayload{Items: []item{{ID: 1, Name: "a"}}}
	w1 := wire.NewWriter()
	require.NoError(t, codec.Serialize(w1, tree.Output, reflect.ValueOf(&src).Elem()))

	w2 := wire.NewWriter()
	require.NoError(t, codec.Serialize(w2, tree.Output, reflect.ValueOf(&src).Elem()))

	var dst listPayload
	r := wire.NewReader(w2.Bytes())
	require.NoError(t, codec.Deserialize(r, tree.Output, reflect.ValueOf(&dst).Elem()))
	require.Empty(t, dst.Items)
}

func TestFieldOrderIndependence(t *testing.T) {
	treeA, err := schema.Build(reflect.TypeOf(scalarIn{}))
	require.NoError(t, err)
	treeB, err := schema.Build(reflect.TypeOf(reorderedIn{}))
	require.NoError(t, err)

	a := scalarIn{ID: 42, Name: "x"}
	wA := wire.NewWriter()
	require.NoError(t, codec.Serialize(wA, treeA.Input, reflect.ValueOf(&a).Elem()))

	b := reorderedIn{ID: 42, Name: "x"}
	wB := wire.NewWriter()
	require.NoError(t, codec.Serialize(wB, treeB.Input, reflect.ValueOf(&b).Elem()))

	require.Equal(t, wA.Bytes(), wB.Bytes())
}

func TestDeserializeShortPayloadFails(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(scalarIn{}))
	require.NoError(t, err)

	full := scalarIn{ID: 7, Name: "hi"}
	w := wire.NewWriter()
	require.NoError(t, codec.Serialize(w, tree.Input, reflect.ValueOf(&full).Elem()))

	truncated := w.Bytes()[:w.Len()-1]
	var dst scalarIn
	r := wire.NewReader(truncated)
	require.Error(t, codec.Deserialize(r, tree.Input, reflect.ValueOf(&dst).Elem()))
}

func TestBindByFieldName(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(listPayload{}))
	require.NoError(t, err)

	type sourceItem struct {
		ID   uint64
		Name string
	}
	type source struct {
		Items []sourceItem
	}

	var dst listPayload
	skipped := codec.Bind(tree.Output, reflect.ValueOf(&dst).Elem(), source{
		Items: []sourceItem{{ID: 9, Name: "z"}},
	})
	require.Empty(t, skipped)
	require.Equal(t, []item{{ID: 9, Name: "z"}}, dst.Items)
}

type fixedArrayIn struct {
	Slots [4]uint8 `param:"1,in"`
}

func TestFixedSizeArrayRoundTrip(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(fixedArrayIn{}))
	require.NoError(t, err)

	src := fixedArrayIn{Slots: [4]uint8{1, 2, 3, 4}}
	w := wire.NewWriter()
	require.NoError(t, codec.Serialize(w, tree.Input, reflect.ValueOf(&src).Elem()))
	require.Equal(t, [4]uint8{1, 2, 3, 4}, src.Slots, "an array field has no empty state to reset to")

	dst := fixedArrayIn{Slots: [4]uint8{9, 9, 9, 9}}
	r := wire.NewReader(w.Bytes())
	require.NoError(t, codec.Deserialize(r, tree.Input, reflect.ValueOf(&dst).Elem()))
	require.Equal(t, [4]uint8{1, 2, 3, 4}, dst.Slots)
}

func TestFixedSizeArrayShorterListZeroesTail(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(fixedArrayIn{}))
	require.NoError(t, err)

	w := wire.NewWriter()
	w.WriteListLen(2)
	w.WriteU8(7)
	w.WriteU8(7)

	dst := fixedArrayIn{Slots: [4]uint8{1, 2, 3, 4}}
	r := wire.NewReader(w.Bytes())
	require.NoError(t, codec.Deserialize(r, tree.Input, reflect.ValueOf(&dst).Elem()))
	require.Equal(t, [4]uint8{7, 7, 0, 0}, dst.Slots)
}

func TestFixedSizeArrayRejectsOversizedList(t *testing.T) {
	tree, err := schema.Build(reflect.TypeOf(fixedArrayIn{}))
	require.NoError(t, err)

	w := wire.NewWriter()
	w.WriteListLen(5)
	for i := 0; i < 5; i++ {
		w.WriteU8(uint8(i))
	}

	var dst fixedArrayIn
	r := wire.NewReader(w.Bytes())
	require.Error(t, codec.Deserialize(r, tree.Input, reflect.ValueOf(&dst).Elem()))
}
