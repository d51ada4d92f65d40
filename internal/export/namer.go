package export

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// counterEpoch is subtracted from the 100µs tick count so filenames stay short.
// It corresponds to 2020-05-20T18:40Z and matches names produced by earlier exporters.
const counterEpoch int64 = 15900000000000

// Namer produces export filenames from a wall clock.
// Counters are strictly increasing for the lifetime of a Namer.
type Namer struct {
	Prefix string
	Ext    string
	Now    func() time.Time

	mu   sync.Mutex
	last int64
}

// NewNamer returns a Namer backed by time.Now.
func NewNamer(prefix, ext string) *Namer {
	return &Namer{Prefix: prefix, Ext: ext, Now: time.Now}
}

// Counter converts t to the 100µs tick counter used in filenames.
func Counter(t time.Time) int64 {
	return t.UnixMicro()/100 - counterEpoch
}

// Next returns the next filename. When withSize is set, the crop dimensions
// are appended as _<w>x<h> before the extension.
func (n *Namer) Next(w, h int, withSize bool) string {
	now := n.Now
	if now == nil {
		now = time.Now
	}

	n.mu.Lock()
	c := Counter(now())
	if c <= n.last {
		c = n.last + 1
	}
	n.last = c
	n.mu.Unlock()

	name := n.Prefix + strconv.FormatInt(c, 10)
	if withSize {
		name += fmt.Sprintf("_%dx%d", w, h)
	}
	return name + n.Ext
}
