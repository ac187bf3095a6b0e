// Package spatial is the process-local in-memory object cache: indices
// by id, by owner, and by 2D location, with line-of-sight queries, all
// under a single lock. Every query returns a deep clone so a caller can
// never alias live cache state; ownership discipline (return owned
// values, not pointers into the cache) stands in for the reference
// implementation's heap-allocated clone-and-return-unique_ptr idiom.
package spatial

import (
	"sync"

	"github.com/petar/GoLLRB/llrb"

	"github.com/riftkeep/gamecore/errs"
)

type (
	// Coord is an integer grid coordinate.
	Coord int32
	// Dimension is an inclusive cell count.
	Dimension int32
	// ObjID identifies one object across its lifetime in the cache.
	ObjID uint64
	// OwnerID identifies the owner of zero or more objects; 0 means
	// unowned.
	OwnerID uint64
)

// Object is any cached entity, addressable by id and optionally owned.
type Object interface {
	ID() ObjID
	Owner() OwnerID
	// Clone returns a deep, independent copy safe to hand to a caller.
	Clone() Object
}

// MapObject is an Object that occupies a rectangle of cells. The cell at
// (X, Y) is its root cell.
type MapObject interface {
	Object
	Bounds() (x, y Coord, width, height Dimension)
}

// Updatable is an Object that participates in the periodic update tick.
// It carries no extra methods; being an Updatable is itself the
// capability the update loop cares about.
type Updatable interface {
	Object
}

// Cache is the spatial object store. The zero value is not usable; build
// one with New.
type Cache struct {
	mu sync.Mutex

	startX, startY Coord
	endX, endY     Coord
	width, height  Dimension
	losRadius      Dimension

	idIdx    map[ObjID]Object
	ownerIdx map[OwnerID][]Object
	locIdx   *llrb.LLRB // locItem, ordered by x then y

	updatableIdx []Updatable

	updateGen uint64 // bumped by BeginUpdate; identifies the live UpdateSession
}

// New returns a cache covering the rectangle [startX, startX+width) x
// [startY, startY+height), with losRadius used by every LOS query.
func New(startX, startY Coord, width, height, losRadius Dimension) *Cache {
	return &Cache{
		startX:    startX,
		startY:    startY,
		endX:      startX + Coord(width),
		endY:      startY + Coord(height),
		width:     width,
		height:    height,
		losRadius: losRadius,
		idIdx:     map[ObjID]Object{},
		ownerIdx:  map[OwnerID][]Object{},
		locIdx:    llrb.New(),
	}
}

type locItem struct {
	x, y Coord
	obj  MapObject
}

func (a locItem) Less(than llrb.Item) bool {
	b := than.(locItem)
	if a.x != b.x {
		return a.x < b.x
	}
	return a.y < b.y
}

func (c *Cache) getLoc(x, y Coord) MapObject {
	item := c.locIdx.Get(locItem{x: x, y: y})
	if item == nil {
		return nil
	}
	return item.(locItem).obj
}

func (c *Cache) setLoc(x, y Coord, obj MapObject) {
	c.locIdx.ReplaceOrInsert(locItem{x: x, y: y, obj: obj})
}

func (c *Cache) clearLoc(x, y Coord) {
	c.locIdx.Delete(locItem{x: x, y: y})
}

func isRoot(obj MapObject, x, y Coord) bool {
	ox, oy, _, _ := obj.Bounds()
	return ox == x && oy == y
}

// clamp enforces start >= origin and end <= origin+extent-1 on both axes.
func (c *Cache) clamp(startX, startY, endX, endY Coord) (Coord, Coord, Coord, Coord) {
	if startX < c.startX {
		startX = c.startX
	}
	if startY < c.startY {
		startY = c.startY
	}
	if endX >= c.endX {
		endX = c.endX - 1
	}
	if endY >= c.endY {
		endY = c.endY - 1
	}
	return startX, startY, endX, endY
}

// Add registers a non-map object (no footprint) in the id and owner
// indices, and in the updatable index if it implements Updatable.
func (c *Cache) Add(obj Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addInternal(obj)
}

func (c *Cache) addInternal(obj Object) {
	c.idIdx[obj.ID()] = obj
	if obj.Owner() != 0 {
		c.ownerIdx[obj.Owner()] = append(c.ownerIdx[obj.Owner()], obj)
	}
	if u, ok := obj.(Updatable); ok {
		c.updatableIdx = append(c.updatableIdx, u)
	}
}

// AddMapObject paints obj's rectangle into the location index and
// registers it in id/owner/updatable indices. It fails with no state
// change if any cell in the rectangle is already occupied.
func (c *Cache) AddMapObject(obj MapObject) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, y, width, height := obj.Bounds()
	for i := x; i < x+Coord(width); i++ {
		for j := y; j < y+Coord(height); j++ {
			if c.getLoc(i, j) != nil {
				return false
			}
		}
	}

	for i := x; i < x+Coord(width); i++ {
		for j := y; j < y+Coord(height); j++ {
			c.setLoc(i, j, obj)
		}
	}

	c.addInternal(obj)
	return true
}

// Remove unregisters a non-map object from the id, owner and updatable
// indices.
func (c *Cache) Remove(id ObjID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeInternal(id)
}

func (c *Cache) removeInternal(id ObjID) {
	obj, ok := c.idIdx[id]
	if !ok {
		return
	}
	delete(c.idIdx, id)

	if obj.Owner() != 0 {
		list := c.ownerIdx[obj.Owner()]
		for i, o := range list {
			if o.ID() == id {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.ownerIdx, obj.Owner())
		} else {
			c.ownerIdx[obj.Owner()] = list
		}
	}

	for i, u := range c.updatableIdx {
		if u.ID() == id {
			c.updatableIdx = append(c.updatableIdx[:i], c.updatableIdx[i+1:]...)
			break
		}
	}
}

// RemoveMapObject clears every cell of the object's rectangle and
// unregisters it from every index.
func (c *Cache) RemoveMapObject(obj MapObject) {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, y, width, height := obj.Bounds()
	for i := x; i < x+Coord(width); i++ {
		for j := y; j < y+Coord(height); j++ {
			c.clearLoc(i, j)
		}
	}
	c.removeInternal(obj.ID())
}

// GetByID returns a clone of the object with the given id, or nil.
func (c *Cache) GetByID(id ObjID) Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.idIdx[id]
	if !ok {
		return nil
	}
	return obj.Clone()
}

// GetAt returns a clone of whatever occupies (x, y); it may be a
// non-root cell of a larger object.
func (c *Cache) GetAt(x, y Coord) MapObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.getLoc(x, y)
	if obj == nil {
		return nil
	}
	return obj.Clone().(MapObject)
}

// GetInArea returns a clone of every object whose root cell lies in the
// rectangle starting at (x, y) with the given width and height, clamped
// to bounds, keyed by id. Each object is included at most once regardless
// of its footprint size.
func (c *Cache) GetInArea(x, y Coord, width, height Dimension) map[ObjID]MapObject {
	endX := x + Coord(width)
	endY := y + Coord(height)
	x, y, endX, endY = c.clamp(x, y, endX, endY)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := map[ObjID]MapObject{}
	for ; x < endX; x++ {
		// mirrors the reference implementation's y = end_y - height loop
		// bound: an implementation quirk, not a contract — only the
		// resulting set is meaningful.
		for j := endY - Coord(height); j < endY; j++ {
			obj := c.getLoc(x, j)
			if obj != nil && isRoot(obj, x, j) {
				result[obj.ID()] = obj.Clone().(MapObject)
			}
		}
	}
	return result
}

// GetByOwner returns a clone of every object owned by owner, keyed by id.
func (c *Cache) GetByOwner(owner OwnerID) map[ObjID]Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := map[ObjID]Object{}
	for _, obj := range c.ownerIdx[owner] {
		result[obj.ID()] = obj.Clone()
	}
	return result
}

// GetUsersWithLOSAt returns the distinct non-zero owners of any object
// occupying the losRadius-box around (x, y), clamped to bounds. Root and
// non-root occupants both count.
func (c *Cache) GetUsersWithLOSAt(x, y Coord) map[OwnerID]struct{} {
	startX, startY := x-Coord(c.losRadius), y-Coord(c.losRadius)
	endX, endY := x+Coord(c.losRadius), y+Coord(c.losRadius)
	startX, startY, endX, endY = c.clamp(startX, startY, endX, endY)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := map[OwnerID]struct{}{}
	for i := startX; i < endX; i++ {
		for j := startY; j < endY; j++ {
			obj := c.getLoc(i, j)
			if obj != nil && obj.Owner() != 0 {
				result[obj.Owner()] = struct{}{}
			}
		}
	}
	return result
}

// GetInOwnerLOS unions the losRadius-box around the origin of every
// map object owned by owner, and returns a clone of each root-cell object
// found, keyed by id.
func (c *Cache) GetInOwnerLOS(owner OwnerID) map[ObjID]MapObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inOwnerLOSLocked(owner)
}

func (c *Cache) inOwnerLOSLocked(owner OwnerID) map[ObjID]MapObject {
	result := map[ObjID]MapObject{}
	for _, obj := range c.ownerIdx[owner] {
		mo, ok := obj.(MapObject)
		if !ok {
			continue
		}
		ox, oy, _, _ := mo.Bounds()
		startX, startY := ox-Coord(c.losRadius), oy-Coord(c.losRadius)
		endX, endY := ox+Coord(c.losRadius), oy+Coord(c.losRadius)
		startX, startY, endX, endY = c.clamp(startX, startY, endX, endY)

		for i := startX; i < endX; i++ {
			for j := startY; j < endY; j++ {
				candidate := c.getLoc(i, j)
				if candidate != nil && isRoot(candidate, i, j) {
					result[candidate.ID()] = candidate.Clone().(MapObject)
				}
			}
		}
	}
	return result
}

// GetInOwnerLOSInBox is GetInOwnerLOS filtered to objects whose origin
// lies within the given box.
func (c *Cache) GetInOwnerLOSInBox(owner OwnerID, x, y Coord, width, height Dimension) map[ObjID]MapObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.inOwnerLOSLocked(owner)
	result := map[ObjID]MapObject{}
	for id, obj := range all {
		ox, oy, _, _ := obj.Bounds()
		if ox >= x && oy >= y && ox <= x+Coord(width) && oy <= y+Coord(height) {
			result[id] = obj
		}
	}
	return result
}

// IsAreaEmpty reports whether every cell of the clamped rectangle
// starting at (x, y) is unoccupied.
func (c *Cache) IsAreaEmpty(x, y Coord, width, height Dimension) bool {
	endX := x + Coord(width)
	endY := y + Coord(height)
	x, y, endX, endY = c.clamp(x, y, endX, endY)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := x; i < endX; i++ {
		for j := endY - Coord(height); j < endY; j++ {
			if c.getLoc(i, j) != nil {
				return false
			}
		}
	}
	return true
}

// IsLocationInLOS reports whether owner has a root-cell object inside the
// losRadius-box around (x, y).
func (c *Cache) IsLocationInLOS(x, y Coord, owner OwnerID) bool {
	startX, startY := x-Coord(c.losRadius), y-Coord(c.losRadius)
	endX, endY := x+Coord(c.losRadius), y+Coord(c.losRadius)
	startX, startY, endX, endY = c.clamp(startX, startY, endX, endY)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := startX; i < endX; i++ {
		for j := startY; j < endY; j++ {
			obj := c.getLoc(i, j)
			if obj != nil && isRoot(obj, i, j) && obj.Owner() == owner {
				return true
			}
		}
	}
	return false
}

// IsLocationInBounds reports whether the rectangle starting at (x, y)
// with the given width and height lies entirely within the cache's
// bounds.
func (c *Cache) IsLocationInBounds(x, y Coord, width, height Dimension) bool {
	return x >= c.startX && y >= c.startY && x+Coord(width) <= c.endX && y+Coord(height) <= c.endY
}

// IsUserPresent reports whether owner has any object registered.
func (c *Cache) IsUserPresent(owner OwnerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ownerIdx[owner]
	return ok
}

// UpdateSession is the capability BeginUpdate hands out: exclusive access
// to the cache for the duration of one update tick. This is the idiomatic
// Go stand-in for the reference implementation's recursive-mutex-plus-
// thread-id check — a capability token plays the role a thread-identity
// comparison played in a language with real thread handles, with the
// same contract: GetNextUpdatable only works while the session that
// produced it is still the live one.
type UpdateSession struct {
	cache *Cache
	gen   uint64
	done  bool
}

// BeginUpdate acquires the cache lock for the duration of one update
// tick. The caller must call End on the returned session exactly once.
func (c *Cache) BeginUpdate() *UpdateSession {
	c.mu.Lock()
	c.updateGen++
	return &UpdateSession{cache: c, gen: c.updateGen}
}

// GetNextUpdatable returns the updatable at position, or nil past the
// end. It returns errs.ErrLockNotHeld if this session is not (or is no
// longer) the cache's live update session, mirroring the reference
// implementation raising a synchronization exception when
// get_next_updatable is called without holding the lock.
func (s *UpdateSession) GetNextUpdatable(position int) (Updatable, error) {
	if s.done || s.gen != s.cache.updateGen {
		return nil, errs.ErrLockNotHeld
	}
	if position < 0 || position >= len(s.cache.updatableIdx) {
		return nil, nil
	}
	return s.cache.updatableIdx[position], nil
}

// End releases the cache lock acquired by BeginUpdate.
func (s *UpdateSession) End() {
	if s.done {
		return
	}
	s.done = true
	s.cache.mu.Unlock()
}
