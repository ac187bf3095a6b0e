package handler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

type stubHandler struct {
	handler.Base
}

func newStub() (handler.Handler, error) {
	h := &stubHandler{}
	if err := h.Init(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *stubHandler) Deserialize(r *wire.Reader) error { return nil }
func (h *stubHandler) Validate() validate.Code          { return validate.Success }
func (h *stubHandler) Process(id uint64) (handler.ResponseCode, uint64, error) {
	return handler.Success, id, nil
}
func (h *stubHandler) Serialize(w *wire.Writer) error { return nil }

func TestRegistryResolvesRegisteredHandler(t *testing.T) {
	reg := handler.NewRegistry(2)
	decl := handler.Declaration{Category: 1, Method: 1, RequiredAuthLevel: 0}
	require.NoError(t, reg.Register(decl, newStub))

	h, code := reg.Resolve(0, 1, 1, 0)
	require.Equal(t, handler.Success, code)
	require.NotNil(t, h)

	h2, code := reg.Resolve(0, 1, 1, 1)
	require.Equal(t, handler.Success, code)
	require.NotSame(t, h, h2, "each worker gets its own instance")
}

func TestRegistryUnknownMethodIsInvalidRequestType(t *testing.T) {
	reg := handler.NewRegistry(1)
	h, code := reg.Resolve(0, 9, 9, 0)
	require.Nil(t, h)
	require.Equal(t, handler.InvalidRequestType, code)
}

func TestRegistryAuthKeyspacesAreDisjoint(t *testing.T) {
	reg := handler.NewRegistry(1)
	decl := handler.Declaration{Category: 5, Method: 1, RequiredAuthLevel: 1}
	require.NoError(t, reg.Register(decl, newStub))

	// Same (category, method), unauthenticated caller: not registered there.
	_, code := reg.Resolve(0, 5, 1, 0)
	require.Equal(t, handler.InvalidRequestType, code)

	// Authenticated caller: resolves.
	_, code = reg.Resolve(42, 5, 1, 0)
	require.Equal(t, handler.Success, code)
}

type pagedStub struct {
	handler.PagedListHandler
}

func TestPaginateOrdersSlicesAndPreservesSource(t *testing.T) {
	source := []int{5, 3, 1, 4, 2}
	less := handler.Less[int]{"value": func(a, b int) bool { return a < b }}

	h := &pagedStub{PagedListHandler: handler.PagedListHandler{
		Skip: 0, Take: 3, OrderByField: "value", OrderByAscending: true,
	}}
	page, code := handler.Paginate(&h.PagedListHandler, source, less)
	require.Equal(t, validate.Success, code)
	require.Equal(t, []int{1, 2, 3}, page)
	require.Equal(t, []int{5, 3, 1, 4, 2}, source, "Paginate must not mutate its source")
}

func TestPaginateUnregisteredFieldFails(t *testing.T) {
	h := &pagedStub{PagedListHandler: handler.PagedListHandler{OrderByField: "nope"}}
	_, code := handler.Paginate(&h.PagedListHandler, []int{1}, handler.Less[int]{})
	require.NotEqual(t, validate.Success, code)
}

func TestPaginateDescendingOrder(t *testing.T) {
	source := []int{1, 2, 3}
	less := handler.Less[int]{"value": func(a, b int) bool { return a < b }}
	h := &pagedStub{PagedListHandler: handler.PagedListHandler{
		Skip: 0, Take: 10, OrderByField: "value", OrderByAscending: false,
	}}
	page, code := handler.Paginate(&h.PagedListHandler, source, less)
	require.Equal(t, validate.Success, code)
	require.Equal(t, []int{3, 2, 1}, page)
}
