package host

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/native"
)

var (
	ErrDuplicateName  = errors.New("profile name already active")
	ErrUnknownProfile = errors.New("unknown profile")
)

// A Registry maps profile IDs, attribute handles and indication cookies
// to the active profile records. Each map has its own lock: lookups
// come from the attribute table's goroutine while the lifecycle worker
// admits and removes profiles.
type Registry struct {
	be       native.Backend
	profiles *Profiles
	bredr    bool
	logger   *logrus.Logger

	pmu    sync.Mutex
	nextID int
	byID   map[int]*Record
	byName map[string]*Record

	hmu     sync.RWMutex
	handles map[uint16]*Record

	cmu     sync.Mutex
	cookie  int32
	cookies map[int]*Record
}

// NewRegistry returns an empty Registry on be. Handle exhaustion
// blacklists the profile in profiles.
func NewRegistry(be native.Backend, profiles *Profiles, bredr bool, l *logrus.Logger) *Registry {
	if l == nil {
		l = logrus.StandardLogger()
	}
	r := &Registry{be: be, profiles: profiles, bredr: bredr, logger: l}
	r.Reset()
	return r
}

// Reset forgets every record and restarts profile IDs at 1.
func (r *Registry) Reset() {
	r.pmu.Lock()
	r.nextID = 1
	r.byID = make(map[int]*Record)
	r.byName = make(map[string]*Record)
	r.pmu.Unlock()

	r.hmu.Lock()
	r.handles = make(map[uint16]*Record)
	r.hmu.Unlock()

	r.cmu.Lock()
	r.cookies = make(map[int]*Record)
	r.cmu.Unlock()
}

// Admit creates the record of a profile entering the active set.
func (r *Registry) Admit(name string, dynamic bool, p gatt.Profile, l gatt.Link) (*Record, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	if _, dup := r.byName[name]; dup {
		return nil, errors.Wrap(ErrDuplicateName, name)
	}
	rec := newRecord(r.nextID, name, dynamic, p, l)
	r.nextID++
	r.byID[rec.ID] = rec
	r.byName[name] = rec
	return rec, nil
}

// AddService reserves count handles for service index of rec. On an
// initialized record the start handle recorded the first time is
// returned instead, provided count has not changed. Zero means no range was available, in which case
// the profile is blacklisted.
func (r *Registry) AddService(rec *Record, index int, u gatt.UUID, count int) uint16 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return 0
	}
	if rec.initialized {
		hr, ok := rec.ranges[index]
		if !ok || hr.count != count {
			r.logger.WithFields(logrus.Fields{
				"profile": rec.Name,
				"service": u,
				"count":   count,
			}).Warn("replayed service does not match its handle range")
			return 0
		}
		return hr.start
	}
	if _, dup := rec.ranges[index]; dup {
		return 0
	}
	start := r.be.FindAvailableRange(u, count)
	if start == 0 {
		r.logger.WithFields(logrus.Fields{
			"profile": rec.Name,
			"service": u,
			"count":   count,
		}).Error("no handle range available")
		r.profiles.SetBlacklisted(rec.Name, true)
		return 0
	}
	rec.ranges[index] = handleRange{start: start, count: count}
	return start
}

// AddAttribute adds an attribute of rec to the table. It is rejected
// once rec is initialized, and for handles outside rec's ranges.
func (r *Registry) AddAttribute(rec *Record, a gatt.AttributeParams) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed || rec.initialized || !rec.owns(a.Handle) {
		return false
	}
	if !r.be.AddAttribute(a) {
		return false
	}
	r.hmu.Lock()
	r.handles[a.Handle] = rec
	r.hmu.Unlock()
	return true
}

// RegisterSdp publishes an SDP record for rec. Without BR/EDR support
// the request is accepted and ignored.
func (r *Registry) RegisterSdp(rec *Record, h uint16, name string) bool {
	if !r.bredr {
		return true
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed || rec.initialized {
		return false
	}
	sdp := r.be.RegisterSdpRecord(h, name)
	if sdp == 0 {
		return false
	}
	rec.sdp = append(rec.sdp, sdp)
	return true
}

// EndInit marks rec as initialized and releases the startup wait.
func (r *Registry) EndInit(rec *Record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.initialized || rec.removed {
		return
	}
	rec.initialized = true
	close(rec.initc)
}

// Remove releases every handle and SDP record of rec and forgets it.
// Native calls are skipped when the table is not operational. It
// reports whether rec was still active.
func (r *Registry) Remove(rec *Record) bool {
	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		return false
	}
	rec.removed = true
	close(rec.done)
	ranges := rec.sortedRanges()
	sdp := rec.sdp
	rec.ranges = make(map[int]handleRange)
	rec.sdp = nil
	rec.mu.Unlock()

	r.pmu.Lock()
	if r.byID[rec.ID] == rec {
		delete(r.byID, rec.ID)
	}
	if r.byName[rec.Name] == rec {
		delete(r.byName, rec.Name)
	}
	r.pmu.Unlock()

	r.hmu.Lock()
	for _, hr := range ranges {
		for i := 0; i < hr.count; i++ {
			h := hr.start + uint16(i)
			if r.handles[h] == rec {
				delete(r.handles, h)
			}
		}
	}
	r.hmu.Unlock()

	r.cmu.Lock()
	for c, owner := range r.cookies {
		if owner == rec {
			delete(r.cookies, c)
		}
	}
	r.cmu.Unlock()

	if r.be.Operational() {
		for _, hr := range ranges {
			for i := 0; i < hr.count; i++ {
				r.be.RemoveAttribute(hr.start + uint16(i))
			}
		}
		for _, s := range sdp {
			r.be.UnregisterSdpRecord(s)
		}
	}
	return true
}

// ResolveByHandle returns the record owning h.
func (r *Registry) ResolveByHandle(h uint16) (*Record, bool) {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	rec, ok := r.handles[h]
	return rec, ok
}

// Lookup returns the active record named name.
func (r *Registry) Lookup(name string) (*Record, bool) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	rec, ok := r.byName[name]
	return rec, ok
}

// Records returns the active records, by ID.
func (r *Registry) Records() []*Record {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	recs := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

// NextCookie returns a new indication cookie. Cookies are positive and
// wrap from math.MaxInt32 to 1.
func (r *Registry) NextCookie() int {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	return r.nextCookieLocked()
}

func (r *Registry) nextCookieLocked() int {
	if r.cookie >= math.MaxInt32 || r.cookie < 0 {
		r.cookie = 0
	}
	r.cookie++
	return int(r.cookie)
}

// setCookie sets the last cookie handed out.
func (r *Registry) setCookie(c int32) {
	r.cmu.Lock()
	r.cookie = c
	r.cmu.Unlock()
}

// SendIndication queues an indication from rec and records the cookie
// before any result can be dispatched. It returns zero on failure.
func (r *Registry) SendIndication(rec *Record, d gatt.BDAddr, h, ccc uint16, v []byte) int {
	if !r.sendable(rec, h) {
		return 0
	}
	r.cmu.Lock()
	defer r.cmu.Unlock()
	cookie := r.nextCookieLocked()
	if !r.be.SendIndication(d, h, ccc, v, cookie) {
		return 0
	}
	r.cookies[cookie] = rec
	return cookie
}

// SendNotification sends a notification from rec.
func (r *Registry) SendNotification(rec *Record, d gatt.BDAddr, h, ccc uint16, v []byte) bool {
	if !r.sendable(rec, h) {
		return false
	}
	return r.be.SendNotification(d, h, ccc, v)
}

// sendable reports whether rec is initialized and owns h.
func (r *Registry) sendable(rec *Record, h uint16) bool {
	if !rec.Initialized() {
		return false
	}
	owner, ok := r.ResolveByHandle(h)
	return ok && owner == rec
}

// TakeCookie removes cookie and returns the record that queued it.
func (r *Registry) TakeCookie(cookie int) (*Record, bool) {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	rec, ok := r.cookies[cookie]
	if ok {
		delete(r.cookies, cookie)
	}
	return rec, ok
}

// Registrar returns the gatt.Registrar bound to rec.
func (r *Registry) Registrar(rec *Record) gatt.Registrar {
	return &registrar{r: r, rec: rec}
}

type registrar struct {
	r   *Registry
	rec *Record
}

func (g *registrar) ProfileID() int    { return g.rec.ID }
func (g *registrar) Initialized() bool { return g.rec.Initialized() }
func (g *registrar) EndInit()          { g.r.EndInit(g.rec) }

func (g *registrar) AddService(index int, u gatt.UUID, count int) uint16 {
	return g.r.AddService(g.rec, index, u, count)
}

func (g *registrar) AddAttribute(a gatt.AttributeParams) bool {
	return g.r.AddAttribute(g.rec, a)
}

func (g *registrar) RegisterSdpRecord(h uint16, name string) bool {
	return g.r.RegisterSdp(g.rec, h, name)
}

func (g *registrar) SendNotification(d gatt.BDAddr, h, ccc uint16, v []byte) bool {
	return g.r.SendNotification(g.rec, d, h, ccc, v)
}

func (g *registrar) SendIndication(d gatt.BDAddr, h, ccc uint16, v []byte) int {
	return g.r.SendIndication(g.rec, d, h, ccc, v)
}
