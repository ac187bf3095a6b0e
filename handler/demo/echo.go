package demo

import (
	"reflect"

	"github.com/riftkeep/gamecore/codec"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

// EchoDecl is handler (2,1): a single string field in, the same string
// back out, unauthenticated.
var EchoDecl = handler.Declaration{Category: 2, Method: 1, RequiredAuthLevel: 0}

// Echo carries the same field twice under different directions since the
// input and output trees are built independently from struct tags; the
// value written to Reply in Process is what Serialize emits.
type Echo struct {
	handler.Base
	Msg   string `param:"1,in"`
	Reply string `param:"1,out"`
}

// NewEcho is Echo's handler.Factory.
func NewEcho() (handler.Handler, error) {
	h := &Echo{}
	if err := h.Init(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Echo) Deserialize(r *wire.Reader) error {
	return codec.Deserialize(r, h.Tree().Input, reflect.ValueOf(h).Elem())
}

func (h *Echo) Validate() validate.Code { return validate.Success }

func (h *Echo) Process(authenticatedID uint64) (handler.ResponseCode, uint64, error) {
	h.Reply = h.Msg
	return handler.Success, authenticatedID, nil
}

func (h *Echo) Serialize(w *wire.Writer) error {
	return codec.Serialize(w, h.Tree().Output, reflect.ValueOf(h).Elem())
}
