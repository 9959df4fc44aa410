package host

import (
	"sort"
	"sync"

	gatt "github.com/XC-/go-gatt"
)

type handleRange struct {
	start uint16
	count int
}

func (r handleRange) contains(h uint16) bool {
	return h >= r.start && int(h) < int(r.start)+r.count
}

// A Record is the state of one active profile. It lives from the
// moment the profile is admitted until it is removed, at the latest
// when the radio turns off.
type Record struct {
	ID      int
	Name    string
	Dynamic bool
	Profile gatt.Profile
	Link    gatt.Link

	mu          sync.Mutex
	initialized bool
	removed     bool
	ranges      map[int]handleRange // by service index
	sdp         []uint32

	initc chan struct{} // closed by EndInit
	done  chan struct{} // closed on removal
}

func newRecord(id int, name string, dynamic bool, p gatt.Profile, l gatt.Link) *Record {
	return &Record{
		ID:      id,
		Name:    name,
		Dynamic: dynamic,
		Profile: p,
		Link:    l,
		ranges:  make(map[int]handleRange),
		initc:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Initialized reports whether the profile has completed its init.
func (r *Record) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Removed reports whether the record has been removed.
func (r *Record) Removed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}

// StartHandle returns the start handle recorded for a service index.
func (r *Record) StartHandle(index int) (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hr, ok := r.ranges[index]
	return hr.start, ok
}

// Services returns the number of services registered.
func (r *Record) Services() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ranges)
}

// owns reports whether h lies in one of the record's ranges.
// r.mu must be held.
func (r *Record) owns(h uint16) bool {
	for _, hr := range r.ranges {
		if hr.contains(h) {
			return true
		}
	}
	return false
}

// sortedRanges returns the ranges by service index. r.mu must be held.
func (r *Record) sortedRanges() []handleRange {
	idx := make([]int, 0, len(r.ranges))
	for i := range r.ranges {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	hrs := make([]handleRange, len(idx))
	for i, n := range idx {
		hrs[i] = r.ranges[n]
	}
	return hrs
}

// linkDone returns the liveness channel of l, or nil for a profile
// that lives as long as the host.
func linkDone(l gatt.Link) <-chan struct{} {
	if l == nil {
		return nil
	}
	return l.Done()
}
