// Package demo provides the reference handler set exercised by the
// module's own end-to-end tests: ping, echo, and a paged listing over an
// in-memory record set. None of them touch the database beyond
// participating in the surrounding transaction dispatch already opens
// for every request.
package demo

import (
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

// PingDecl is handler (1,1): no parameters, unauthenticated, always
// succeeds.
var PingDecl = handler.Declaration{Category: 1, Method: 1, RequiredAuthLevel: 0}

// Ping has no fields at all; Deserialize/Serialize are no-ops.
type Ping struct {
	handler.Base
}

// NewPing is Ping's handler.Factory.
func NewPing() (handler.Handler, error) {
	h := &Ping{}
	if err := h.Init(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Ping) Deserialize(r *wire.Reader) error { return nil }
func (h *Ping) Validate() validate.Code          { return validate.Success }

func (h *Ping) Process(authenticatedID uint64) (handler.ResponseCode, uint64, error) {
	return handler.Success, authenticatedID, nil
}

func (h *Ping) Serialize(w *wire.Writer) error { return nil }
