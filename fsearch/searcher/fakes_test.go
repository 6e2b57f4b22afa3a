package searcher

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"
)

// fakeVolume serves a fixed list of items, already in rank order, with the
// same offset bookkeeping as a real volume.
type fakeVolume struct {
	id    string
	items []filemap.Item

	mu        sync.Mutex
	onDisk    bool
	lastQuery string
	offset    int
	builds    int
	updates   int
	finds     int
	releases  int
	closes    int

	// blockQuery makes Find for that query wait for ctx to be cancelled
	blockQuery string
	blocked    chan struct{}
	panicFind  bool
	panicUpd   bool
}

func newFakeVolume(id string, items ...filemap.Item) *fakeVolume {
	for i := range items {
		if items[i].Path == "" {
			items[i].Path = id + "/" + items[i].Name
		}
	}
	return &fakeVolume{id: id, items: items, blocked: make(chan struct{}, 1)}
}

func item(name string, rank int8) filemap.Item {
	return filemap.Item{Name: name, Rank: rank}
}

func (f *fakeVolume) ID() string { return f.id }

func (f *fakeVolume) BuildIndex(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	f.onDisk = true
	return nil
}

func (f *fakeVolume) UpdateIndex(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.panicUpd {
		panic("update exploded")
	}
	return nil
}

func (f *fakeVolume) Find(ctx context.Context, query string, batch int) ([]filemap.Item, error) {
	f.mu.Lock()
	f.finds++
	block := query == f.blockQuery
	explode := f.panicFind
	f.mu.Unlock()

	if explode {
		panic("find exploded")
	}
	if block {
		f.blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if query != f.lastQuery {
		f.lastQuery, f.offset = query, 0
	}

	var out []filemap.Item
	i := f.offset
	for ; i < len(f.items) && len(out) < batch; i++ {
		if strings.Contains(f.items[i].Name, query) {
			out = append(out, f.items[i])
		}
	}
	f.offset = i
	return out, nil
}

func (f *fakeVolume) ResetQuery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery, f.offset = "", 0
}

func (f *fakeVolume) ReleaseIndex() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	f.lastQuery, f.offset = "", 0
	return nil
}

func (f *fakeVolume) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeVolume) Stats() volume.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return volume.Stats{ID: f.id, OnDisk: f.onDisk}
}

func (f *fakeVolume) count(n *int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *n
}

type fakeProvider struct {
	mu      sync.Mutex
	present []string
	vols    map[string]*fakeVolume
	opens   map[string]int
}

func newFakeProvider(vols ...*fakeVolume) *fakeProvider {
	p := &fakeProvider{vols: make(map[string]*fakeVolume), opens: make(map[string]int)}
	for _, v := range vols {
		p.add(v)
	}
	return p
}

func (p *fakeProvider) add(v *fakeVolume) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vols[v.id] = v
	p.present = append(p.present, v.id)
}

func (p *fakeProvider) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = slices.DeleteFunc(p.present, func(s string) bool { return s == id })
}

func (p *fakeProvider) Discover(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.present), nil
}

func (p *fakeProvider) Open(ctx context.Context, id string) (Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens[id]++
	return p.vols[id], nil
}

// collectSink records deliveries.
type collectSink struct {
	ch chan ports.Delivery
}

func newCollectSink() *collectSink {
	return &collectSink{ch: make(chan ports.Delivery, 32)}
}

func (s *collectSink) Deliver(d ports.Delivery) {
	s.ch <- d
}

type iconMap map[string][]byte

func (m iconMap) Icon(path string) []byte {
	return m[path]
}

func names(items []filemap.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}
