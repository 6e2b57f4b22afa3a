package searcher

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// find serves a query. A repeat of the current query is a pagination
// request: the window grows by one batch and is served from the buffer when
// it holds enough results. Anything else starts a new accumulation.
func (c *Coordinator) find(ctx context.Context, q string) error {
	c.refresh(ctx, false)
	batch := c.opts.BatchSize

	want := batch
	paginate := c.valid && q == c.query
	if paginate {
		want = c.shown + batch
		if len(c.items) >= want {
			c.shown = want
			c.deliver(true)
			return nil
		}
	} else {
		c.resetResults()
		c.query, c.valid = q, true
		c.seen = make(map[string]struct{})
		c.searchID = uuid.New()
	}

	if q == "" {
		c.deliver(paginate)
		return nil
	}
	if !paginate {
		// a superseded search may have advanced some volumes already
		c.resetPositions()
	}

	start := time.Now()
	found, err := c.fanOut(ctx, q, batch)
	if err != nil {
		c.resetResults()
		return err
	}

	c.items = append(c.items, found...)
	slices.SortStableFunc(c.items, func(a, b filemap.Item) int {
		return cmp.Compare(b.Rank, a.Rank)
	})
	c.shown = min(want, len(c.items))
	c.logger.Debug().
		Str("search", c.searchID.String()).
		Str("query", q).
		Int("found", len(found)).
		Int("buffered", len(c.items)).
		Dur("took", time.Since(start)).
		Msg("Search finished")

	c.deliver(paginate)
	return nil
}

type findReply struct {
	idx   int
	items []filemap.Item
	err   error
}

// fanOut searches every volume concurrently. While waiting it watches the
// inbox: a new message cancels the outstanding searches and is deferred for
// processing, and the search reports ErrSuperseded.
func (c *Coordinator) fanOut(ctx context.Context, q string, batch int) ([]filemap.Item, error) {
	if len(c.vols) == 0 {
		return nil, nil
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan findReply, len(c.vols))
	var wg conc.WaitGroup
	for i, v := range c.vols {
		wg.Go(func() {
			var items []filemap.Item
			err := guard(func() (err error) {
				items, err = v.Find(sctx, q, batch)
				return err
			})
			replies <- findReply{idx: i, items: items, err: err}
		})
	}

	parts := make([][]filemap.Item, len(c.vols))
	for pending := len(c.vols); pending > 0; {
		select {
		case next := <-c.inbox:
			cancel()
			wg.Wait()
			c.deferred = append(c.deferred, next)
			c.logger.Debug().Str("search", c.searchID.String()).Stringer("by", next.kind).Msg("Search superseded")
			return nil, ErrSuperseded

		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil, ctx.Err()

		case r := <-replies:
			pending--
			if r.err != nil {
				if !errors.Is(r.err, context.Canceled) {
					c.logger.Warn().Err(r.err).Str("volume", c.vols[r.idx].ID()).Msg("Volume search failed")
				}
				continue
			}
			parts[r.idx] = r.items
		}
	}
	wg.Wait()

	var out []filemap.Item
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// deliver hands the visible window to the sink, marking which of its items
// no earlier delivery of this search contained.
func (c *Coordinator) deliver(paginate bool) {
	window := c.items[:c.shown]
	if c.opts.Icons != nil {
		for i := range window {
			if window[i].Icon == nil {
				window[i].Icon = c.opts.Icons.Icon(window[i].Path)
			}
		}
	}

	var fresh []filemap.Item
	for _, it := range window {
		if _, ok := c.seen[it.Path]; ok {
			continue
		}
		c.seen[it.Path] = struct{}{}
		fresh = append(fresh, it)
	}

	if c.sink == nil {
		return
	}
	c.sink.Deliver(ports.Delivery{
		SearchID:   c.searchID,
		Query:      c.query,
		Items:      slices.Clone(window),
		Pagination: paginate,
		NewItems:   fresh,
	})
}
