package searcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, q)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestDebouncerForwardsLastQuery(t *testing.T) {
	var r recorder
	d := NewDebouncer(40*time.Millisecond, r.add)
	defer d.Close()

	for _, q := range []string{"r", "re", "rep", "repo"} {
		d.Submit(q)
	}

	require.Eventually(t, func() bool { return len(r.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{"repo"}, r.list())
}

func TestDebouncerZeroDelay(t *testing.T) {
	var r recorder
	d := NewDebouncer(0, r.add)
	d.Submit("a")
	d.Submit("b")
	assert.Equal(t, []string{"a", "b"}, r.list())
}

func TestDebouncerFlushAndClose(t *testing.T) {
	var r recorder
	d := NewDebouncer(time.Hour, r.add)

	d.Submit("now")
	assert.True(t, d.Flush())
	assert.Equal(t, []string{"now"}, r.list())

	assert.False(t, d.Flush())
	assert.Len(t, r.list(), 1)

	d.Submit("dropped")
	d.Close()
	assert.False(t, d.Flush())
	assert.Equal(t, []string{"now"}, r.list())
}
