package demo

import (
	"reflect"

	"github.com/vmihailenco/msgpack"

	"github.com/riftkeep/gamecore/codec"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

// AccountRecordDecl is handler (3,1): a paged, sortable listing over an
// in-memory record set, unauthenticated.
var AccountRecordDecl = handler.Declaration{Category: 3, Method: 1, RequiredAuthLevel: 0}

// AccountRecord is one row of the demo source sequence.
type AccountRecord struct {
	ID   uint64 `param:"1,out" msgpack:"id"`
	Name string `param:"2,out" msgpack:"name"`
}

// packedDemoAccounts is the fixed source, msgpack-encoded the way a
// cached snapshot pulled off a broker connection would arrive: a single
// binary blob decoded once at load time rather than kept as Go literals.
var packedDemoAccounts = mustPack([]AccountRecord{
	{ID: 5, Name: "erin"},
	{ID: 1, Name: "alice"},
	{ID: 4, Name: "dana"},
	{ID: 2, Name: "bob"},
	{ID: 3, Name: "carol"},
})

// demoAccounts is the fixed source AccountRecordList pages over. A real
// deployment would source this from the request's txdb.Context instead;
// this handler exists to exercise handler.Paginate end to end.
var demoAccounts = unpackDemoAccounts(packedDemoAccounts)

func mustPack(records []AccountRecord) []byte {
	b, err := msgpack.Marshal(records)
	if err != nil {
		panic(err)
	}
	return b
}

func unpackDemoAccounts(packed []byte) []AccountRecord {
	var records []AccountRecord
	if err := msgpack.Unmarshal(packed, &records); err != nil {
		panic(err)
	}
	return records
}

var accountLess = handler.Less[AccountRecord]{
	"id":   func(a, b AccountRecord) bool { return a.ID < b.ID },
	"name": func(a, b AccountRecord) bool { return a.Name < b.Name },
}

// AccountRecordList pages demoAccounts by the requested sort field.
type AccountRecordList struct {
	handler.Base
	handler.PagedListHandler
	List []AccountRecord `param:"-1,out"`
}

// NewAccountRecordList is AccountRecordList's handler.Factory.
func NewAccountRecordList() (handler.Handler, error) {
	h := &AccountRecordList{}
	if err := h.Init(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *AccountRecordList) Deserialize(r *wire.Reader) error {
	return codec.Deserialize(r, h.Tree().Input, reflect.ValueOf(h).Elem())
}

func (h *AccountRecordList) Validate() validate.Code {
	if _, ok := accountLess[h.OrderByField]; !ok {
		return validate.Code(handler.InvalidParameters)
	}
	if h.Skip < 0 || h.Take < 0 {
		return validate.Code(handler.InvalidParameters)
	}
	return validate.Success
}

func (h *AccountRecordList) Process(authenticatedID uint64) (handler.ResponseCode, uint64, error) {
	page, code := handler.Paginate(&h.PagedListHandler, demoAccounts, accountLess)
	if code != validate.Success {
		return handler.ResponseCode(code), authenticatedID, nil
	}
	h.List = page
	return handler.Success, authenticatedID, nil
}

func (h *AccountRecordList) Serialize(w *wire.Writer) error {
	return codec.Serialize(w, h.Tree().Output, reflect.ValueOf(h).Elem())
}
