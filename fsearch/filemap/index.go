package filemap

import (
	"cmp"
	"context"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// cancelCheckInterval is how many candidates are examined between cancellation checks.
const cancelCheckInterval = 64

// rankKey orders records by rank, then by id. Iteration runs from the end
// so the highest rank comes first.
type rankKey[K cmp.Ordered] struct {
	rank int8
	id   K
}

func compareRankKeys[K cmp.Ordered](a, b interface{}) int {
	ka := a.(rankKey[K])
	kb := b.(rankKey[K])
	if c := cmp.Compare(ka.rank, kb.rank); c != 0 {
		return c
	}
	return cmp.Compare(ka.id, kb.id)
}

// rankIndex keeps the ordered tree and the id to rank side map in step.
type rankIndex[K cmp.Ordered, V any] struct {
	tree  *redblacktree.Tree
	ranks map[K]int8
}

func newRankIndex[K cmp.Ordered, V any]() *rankIndex[K, V] {
	return &rankIndex[K, V]{
		tree:  redblacktree.NewWith(compareRankKeys[K]),
		ranks: make(map[K]int8),
	}
}

// put stores v under id, dropping the key left by a previous rank.
func (ix *rankIndex[K, V]) put(id K, rank int8, v V) {
	if old, ok := ix.ranks[id]; ok {
		ix.tree.Remove(rankKey[K]{rank: old, id: id})
	}
	ix.tree.Put(rankKey[K]{rank: rank, id: id}, v)
	ix.ranks[id] = rank
}

func (ix *rankIndex[K, V]) remove(id K) (V, bool) {
	var zero V
	rank, ok := ix.ranks[id]
	if !ok {
		return zero, false
	}
	key := rankKey[K]{rank: rank, id: id}
	v, found := ix.tree.Get(key)
	ix.tree.Remove(key)
	delete(ix.ranks, id)
	if !found {
		return zero, false
	}
	return v.(V), true
}

func (ix *rankIndex[K, V]) get(id K) (V, bool) {
	var zero V
	rank, ok := ix.ranks[id]
	if !ok {
		return zero, false
	}
	v, found := ix.tree.Get(rankKey[K]{rank: rank, id: id})
	if !found {
		return zero, false
	}
	return v.(V), true
}

func (ix *rankIndex[K, V]) len() int {
	return len(ix.ranks)
}

func (ix *rankIndex[K, V]) clear() {
	ix.tree.Clear()
	ix.ranks = make(map[K]int8)
}

// descend calls fn from the highest rank down until fn returns false.
func (ix *rankIndex[K, V]) descend(fn func(V) bool) {
	it := ix.tree.Iterator()
	it.End()
	for it.Prev() {
		if !fn(it.Value().(V)) {
			return
		}
	}
}

// scan walks the index from the highest rank down, skipping the first offset
// entries, and collects up to batch items accepted by match. It returns the
// number of entries examined after the offset. A cancelled ctx discards
// everything collected so far.
func (ix *rankIndex[K, V]) scan(ctx context.Context, offset, batch int, match func(V) (Item, bool)) ([]Item, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if batch <= 0 {
		return []Item{}, 0, nil
	}

	done := ctx.Done()
	items := make([]Item, 0, min(batch, 64))
	examined := 0
	skipped := 0

	it := ix.tree.Iterator()
	it.End()
	for it.Prev() {
		if skipped < offset {
			skipped++
			continue
		}
		if examined%cancelCheckInterval == 0 {
			select {
			case <-done:
				return nil, 0, ctx.Err()
			default:
			}
		}
		examined++

		if item, ok := match(it.Value().(V)); ok {
			items = append(items, item)
			if len(items) >= batch {
				break
			}
		}
	}
	return items, examined, nil
}
