package spatial_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/spatial"
)

type actor struct {
	id      spatial.ObjID
	owner   spatial.OwnerID
	visited int
}

func (a *actor) ID() spatial.ObjID      { return a.id }
func (a *actor) Owner() spatial.OwnerID { return a.owner }
func (a *actor) Clone() spatial.Object  { c := *a; return &c }

type block struct {
	actor
	x, y, w, h int32
}

func (b *block) Clone() spatial.Object { c := *b; return &c }
func (b *block) Bounds() (spatial.Coord, spatial.Coord, spatial.Dimension, spatial.Dimension) {
	return spatial.Coord(b.x), spatial.Coord(b.y), spatial.Dimension(b.w), spatial.Dimension(b.h)
}

func newBlock(id spatial.ObjID, owner spatial.OwnerID, x, y, w, h int32) *block {
	return &block{actor: actor{id: id, owner: owner}, x: x, y: y, w: w, h: h}
}

func TestAddRemoveSymmetry(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := newBlock(1, 7, 10, 10, 2, 2)

	require.True(t, c.AddMapObject(a))
	require.NotNil(t, c.GetByID(1))
	require.Len(t, c.GetByOwner(7), 1)

	c.RemoveMapObject(a)
	require.Nil(t, c.GetByID(1))
	require.Empty(t, c.GetByOwner(7))
	require.Nil(t, c.GetAt(10, 10))
	require.Nil(t, c.GetAt(11, 11))
}

func TestNonOverlapAddFails(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := newBlock(1, 1, 0, 0, 2, 2)
	b := newBlock(2, 1, 1, 1, 2, 2)

	require.True(t, c.AddMapObject(a))
	require.False(t, c.AddMapObject(b), "overlapping insert must fail")

	at := c.GetAt(1, 1)
	require.NotNil(t, at)
	require.Equal(t, spatial.ObjID(1), at.ID(), "state must be unchanged after a failed insert")

	require.Nil(t, c.GetByID(2))
}

func TestGetInAreaReturnsEachRootOnce(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := newBlock(1, 1, 5, 5, 3, 3)
	require.True(t, c.AddMapObject(a))

	found := c.GetInArea(0, 0, 20, 20)
	require.Len(t, found, 1)
	require.Contains(t, found, spatial.ObjID(1))
}

func TestLOSSymmetry(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 3)
	a := newBlock(1, 42, 10, 10, 1, 1)
	require.True(t, c.AddMapObject(a))

	near := c.GetUsersWithLOSAt(12, 12)
	require.Contains(t, near, spatial.OwnerID(42))

	far := c.GetUsersWithLOSAt(50, 50)
	require.NotContains(t, far, spatial.OwnerID(42))
}

func TestIsLocationInLOS(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 3)
	a := newBlock(1, 42, 10, 10, 1, 1)
	require.True(t, c.AddMapObject(a))

	require.True(t, c.IsLocationInLOS(12, 12, 42))
	require.False(t, c.IsLocationInLOS(50, 50, 42))
}

func TestCloneIsolation(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := newBlock(1, 1, 0, 0, 1, 1)
	require.True(t, c.AddMapObject(a))

	clone := c.GetAt(0, 0).(*block)
	clone.owner = 99

	still := c.GetAt(0, 0)
	require.Equal(t, spatial.OwnerID(1), still.Owner(), "mutating a returned clone must not affect cache state")
}

func TestUpdateSessionRequiresBeginUpdate(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := &actor{id: 1, owner: 1}
	c.Add(a)

	session := c.BeginUpdate()
	u, err := session.GetNextUpdatable(0)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, spatial.ObjID(1), u.ID())
	session.End()

	_, err = session.GetNextUpdatable(0)
	require.Error(t, err, "a session must not be usable after End")
}

func TestUpdateSessionPastEndReturnsNil(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	session := c.BeginUpdate()
	defer session.End()

	u, err := session.GetNextUpdatable(0)
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestNonMapObjectAddRemove(t *testing.T) {
	c := spatial.New(0, 0, 100, 100, 5)
	a := &actor{id: 5, owner: 3}
	c.Add(a)
	require.NotNil(t, c.GetByID(5))
	require.True(t, c.IsUserPresent(3))

	c.Remove(5)
	require.Nil(t, c.GetByID(5))
	require.False(t, c.IsUserPresent(3))
}
