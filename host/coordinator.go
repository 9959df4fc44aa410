// Package host runs GATT profiles on a shared attribute table.
//
// A Coordinator follows the radio: when it turns on, every installed
// profile is started in sorted order, then every dynamic profile in
// registration order; when it turns off, all of them are torn down.
// A change to the profile set while the radio is on power cycles it,
// so that peers see the new attribute layout all at once.
package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/internal/event"
	"github.com/XC-/go-gatt/native"
	"github.com/XC-/go-gatt/settings"
)

const (
	evRadioOn event.Code = iota
	evRadioOff
	evPackageAdded
	evPackageRemoved
	evDynamicAdd
	evDynamicRemove
	evProfileDied
	evClearProfileData
)

var eventName = map[event.Code]string{
	evRadioOn:          "radio on",
	evRadioOff:         "radio off",
	evPackageAdded:     "package added",
	evPackageRemoved:   "package removed",
	evDynamicAdd:       "dynamic add",
	evDynamicRemove:    "dynamic remove",
	evProfileDied:      "profile died",
	evClearProfileData: "clear profile data",
}

type dynamicProfile struct {
	name string
	p    gatt.Profile
	l    gatt.Link
}

// A Coordinator drives the profile lifecycle. All transitions run one
// at a time on a single worker goroutine.
type Coordinator struct {
	cfg      Config
	logger   *logrus.Logger
	be       native.Backend
	reg      *Registry
	profiles *Profiles
	binder   Binder
	events   *dispatcher
	loop     *event.Loop

	smu   sync.Mutex
	state State

	// Owned by the worker.
	dynamic      []*dynamicProfile
	cyclePending bool
	flagged      bool // table changed flag set during this radio-on cycle
}

var _ gatt.Host = (*Coordinator)(nil)

// NewCoordinator returns a Coordinator with the radio off. Installed
// profiles are bound through b.
func NewCoordinator(be native.Backend, store settings.Store, b Binder, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	profiles := NewProfiles(store, cfg.Logger)
	reg := NewRegistry(be, profiles, cfg.BREDR, cfg.Logger)
	c := &Coordinator{
		cfg:      cfg,
		logger:   cfg.Logger,
		be:       be,
		reg:      reg,
		profiles: profiles,
		binder:   b,
		events:   &dispatcher{r: reg, logger: cfg.Logger},
		loop:     event.NewLoop(),
	}

	c.loop.HandleEvent(evRadioOn, event.HandlerFunc(c.handleRadioOn))
	c.loop.HandleEvent(evRadioOff, event.HandlerFunc(c.handleRadioOff))
	c.loop.HandleEvent(evPackageAdded, event.HandlerFunc(c.handlePackageAdded))
	c.loop.HandleEvent(evPackageRemoved, event.HandlerFunc(c.handlePackageRemoved))
	c.loop.HandleEvent(evDynamicAdd, event.HandlerFunc(c.handleDynamicAdd))
	c.loop.HandleEvent(evDynamicRemove, event.HandlerFunc(c.handleDynamicRemove))
	c.loop.HandleEvent(evProfileDied, event.HandlerFunc(c.handleProfileDied))
	c.loop.HandleEvent(evClearProfileData, event.HandlerFunc(c.handleClearProfileData))
	c.loop.OnError = func(code event.Code, err error) {
		c.logger.WithError(err).WithField("event", eventName[code]).Warn("event failed")
	}
	c.loop.Start()
	return c
}

// Close turns the radio off and stops the worker.
func (c *Coordinator) Close() {
	c.loop.Call(evRadioOff, nil)
	c.loop.Stop()
}

// Registry returns the profile registry.
func (c *Coordinator) Registry() *Registry { return c.reg }

// Profiles returns the persistent profile state.
func (c *Coordinator) Profiles() *Profiles { return c.profiles }

// State returns the current radio state.
func (c *Coordinator) State() State {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.smu.Lock()
	prev := c.state
	c.state = s
	c.smu.Unlock()
	c.logger.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("radio state")
}

// RadioOn reports that the radio turned on, and starts every profile.
func (c *Coordinator) RadioOn() error { return c.loop.Call(evRadioOn, nil) }

// RadioOff reports that the radio turned off, and stops every profile.
func (c *Coordinator) RadioOff() error { return c.loop.Call(evRadioOff, nil) }

// PackageAdded installs a profile package.
func (c *Coordinator) PackageAdded(name string) error { return c.loop.Call(evPackageAdded, name) }

// PackageRemoved uninstalls a profile package.
func (c *Coordinator) PackageRemoved(name string) error { return c.loop.Call(evPackageRemoved, name) }

// ClearProfileData clears the blacklist flag of a profile.
func (c *Coordinator) ClearProfileData(name string) error {
	return c.loop.Call(evClearProfileData, name)
}

// AddDynamicProfile implements gatt.Host. It must not be called from
// within a profile's RegisterProfile.
func (c *Coordinator) AddDynamicProfile(name string, p gatt.Profile, l gatt.Link) error {
	return c.loop.Call(evDynamicAdd, &dynamicProfile{name: name, p: p, l: l})
}

// RemoveDynamicProfile implements gatt.Host.
func (c *Coordinator) RemoveDynamicProfile(name string) error {
	return c.loop.Call(evDynamicRemove, name)
}

func (c *Coordinator) handleRadioOn(interface{}) error {
	if c.State() != StateOff {
		return nil
	}
	c.setState(StateStarting)
	c.flagged = false
	if err := c.be.Setup(c.events); err != nil {
		c.logger.WithError(err).Error("attribute table setup failed")
		c.shutdown()
		return errors.Wrap(err, "radio on")
	}
	for _, name := range c.profiles.Installed() {
		c.startInstalled(name)
	}
	for _, d := range append([]*dynamicProfile(nil), c.dynamic...) {
		c.start(d.name, true, d.p, d.l)
	}
	c.setState(StateRunning)
	c.flush()
	return nil
}

func (c *Coordinator) handleRadioOff(interface{}) error {
	if c.State() == StateOff {
		return nil
	}
	c.setState(StateStopping)
	c.shutdown()
	if c.cyclePending {
		c.cyclePending = false
		c.power(true)
	}
	return nil
}

// shutdown stops every active profile and tears the table down.
func (c *Coordinator) shutdown() {
	recs := c.reg.Records()
	for i := len(recs) - 1; i >= 0; i-- {
		c.teardown(recs[i])
	}
	c.reg.Reset()
	c.be.Teardown()
	c.setState(StateOff)
}

func (c *Coordinator) startInstalled(name string) {
	if c.skip(name) {
		return
	}
	p, l, err := c.binder.Bind(name)
	if err != nil {
		c.logger.WithError(err).WithField("profile", name).Error("profile bind failed")
		c.profiles.SetBlacklisted(name, true)
		c.flagOnce()
		return
	}
	c.start(name, false, p, l)
}

// skip reports whether name is blacklisted.
func (c *Coordinator) skip(name string) bool {
	if !c.profiles.Blacklisted(name) {
		return false
	}
	c.logger.WithField("profile", name).Warn("blacklisted profile skipped")
	c.flagOnce()
	return true
}

// start admits a profile and waits until it completes its init, fails,
// dies or times out.
func (c *Coordinator) start(name string, dynamic bool, p gatt.Profile, l gatt.Link) bool {
	if c.skip(name) {
		return false
	}
	rec, err := c.reg.Admit(name, dynamic, p, l)
	if err != nil {
		c.logger.WithError(err).WithField("profile", name).Error("profile not admitted")
		return false
	}
	log := c.logger.WithFields(logrus.Fields{
		"profile": name,
		"id":      rec.ID,
		"dynamic": dynamic,
	})

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if e := recover(); e != nil {
				errc <- errors.Errorf("register panicked: %v", e)
			}
		}()
		errc <- p.RegisterProfile(c.reg.Registrar(rec))
	}()

	timer := time.NewTimer(c.cfg.StartTimeout)
	defer timer.Stop()
	died := linkDone(l)
	for {
		select {
		case <-rec.initc:
			log.Info("profile started")
			go c.watch(rec)
			return true
		case err := <-errc:
			if err == nil {
				// Init may complete after RegisterProfile returns.
				errc = nil
				continue
			}
			c.failStart(rec, err)
			return false
		case <-died:
			if dynamic {
				log.Warn("dynamic profile died during startup")
				c.teardown(rec)
				c.dropDynamic(name)
				c.flagOnce()
				return false
			}
			c.failStart(rec, errors.New("died during startup"))
			return false
		case <-timer.C:
			c.failStart(rec, errors.Errorf("no end of init after %v", c.cfg.StartTimeout))
			return false
		}
	}
}

// failStart removes a profile that could not start and blacklists it.
func (c *Coordinator) failStart(rec *Record, err error) {
	c.logger.WithError(err).WithField("profile", rec.Name).Error("profile startup failed, blacklisting")
	c.teardown(rec)
	c.profiles.SetBlacklisted(rec.Name, true)
	c.flagOnce()
}

// teardown removes rec and unregisters its profile.
func (c *Coordinator) teardown(rec *Record) {
	if !c.reg.Remove(rec) {
		return
	}
	defer func() {
		if e := recover(); e != nil {
			c.logger.WithFields(logrus.Fields{
				"profile": rec.Name,
				"panic":   fmt.Sprint(e),
			}).Error("unregister failed")
		}
	}()
	rec.Profile.UnregisterProfile()
}

// watch reports the death of an initialized profile to the worker.
func (c *Coordinator) watch(rec *Record) {
	select {
	case <-linkDone(rec.Link):
		if err := c.loop.Post(evProfileDied, rec); err != nil {
			c.logger.WithError(err).WithField("profile", rec.Name).Debug("death not reported")
		}
	case <-rec.done:
	}
}

func (c *Coordinator) handleProfileDied(arg interface{}) error {
	rec := arg.(*Record)
	if rec.Removed() {
		return nil
	}
	c.logger.WithFields(logrus.Fields{
		"profile": rec.Name,
		"id":      rec.ID,
	}).Warn("profile died")
	c.teardown(rec)
	if rec.Dynamic {
		c.dropDynamic(rec.Name)
	}
	c.profiles.SetTableChanged(true)
	if c.State() == StateRunning {
		c.flush()
	}
	return nil
}

// flagOnce sets the table changed flag at most once per radio-on cycle.
func (c *Coordinator) flagOnce() {
	if c.flagged {
		return
	}
	c.flagged = true
	c.profiles.SetTableChanged(true)
}

// flush tells connected peers that the table changed, if it did.
func (c *Coordinator) flush() {
	if !c.profiles.TableChanged() || !c.be.Operational() {
		return
	}
	c.be.InvalidateClientCache()
	c.profiles.SetTableChanged(false)
}

// changed handles a change to the profile set. While running, the
// radio is power cycled so the new set starts from scratch.
func (c *Coordinator) changed(reason string) error {
	c.profiles.SetTableChanged(true)
	if c.State() != StateRunning {
		c.logger.WithField("reason", reason).Debug("profile set changed")
		return nil
	}
	c.logger.WithField("reason", reason).Info("profile set changed, power cycling")
	if c.cfg.Radio == nil {
		c.setState(StateStopping)
		c.shutdown()
		return c.handleRadioOn(nil)
	}
	if !c.cyclePending {
		c.cyclePending = true
		c.power(false)
	}
	return nil
}

func (c *Coordinator) power(on bool) {
	r := c.cfg.Radio
	go func() {
		if err := r.SetPowered(on); err != nil {
			c.logger.WithError(err).WithField("on", on).Error("radio power change failed")
		}
	}()
}

func (c *Coordinator) handlePackageAdded(arg interface{}) error {
	name := arg.(string)
	if c.findDynamic(name) != nil {
		return errors.Wrap(ErrDuplicateName, name)
	}
	added, err := c.profiles.Install(name)
	if err != nil || !added {
		return err
	}
	return c.changed("package added: " + name)
}

func (c *Coordinator) handlePackageRemoved(arg interface{}) error {
	name := arg.(string)
	removed, err := c.profiles.Uninstall(name)
	if err != nil || !removed {
		return err
	}
	return c.changed("package removed: " + name)
}

func (c *Coordinator) findDynamic(name string) *dynamicProfile {
	for _, d := range c.dynamic {
		if d.name == name {
			return d
		}
	}
	return nil
}

func (c *Coordinator) dropDynamic(name string) {
	for i, d := range c.dynamic {
		if d.name == name {
			c.dynamic = append(c.dynamic[:i], c.dynamic[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) handleDynamicAdd(arg interface{}) error {
	d := arg.(*dynamicProfile)
	if d.name == "" || d.p == nil {
		return errors.New("dynamic profile needs a name and a profile")
	}
	if c.findDynamic(d.name) != nil || c.profiles.IsInstalled(d.name) {
		return errors.Wrap(ErrDuplicateName, d.name)
	}
	c.dynamic = append(c.dynamic, d)
	return c.changed("dynamic profile added: " + d.name)
}

func (c *Coordinator) handleDynamicRemove(arg interface{}) error {
	name := arg.(string)
	if c.findDynamic(name) == nil {
		return errors.Wrap(ErrUnknownProfile, name)
	}
	c.dropDynamic(name)
	if rec, ok := c.reg.Lookup(name); ok {
		c.teardown(rec)
	}
	return c.changed("dynamic profile removed: " + name)
}

func (c *Coordinator) handleClearProfileData(arg interface{}) error {
	name := arg.(string)
	was := c.profiles.Blacklisted(name)
	c.profiles.SetBlacklisted(name, false)
	if !was || (!c.profiles.IsInstalled(name) && c.findDynamic(name) == nil) {
		return nil
	}
	return c.changed("profile data cleared: " + name)
}

// ProfileInfo describes an active profile.
type ProfileInfo struct {
	ID          int
	Name        string
	Dynamic     bool
	Initialized bool
	Services    int
}

// A Snapshot is the observable state of a Coordinator.
type Snapshot struct {
	State        State
	Profiles     []ProfileInfo
	Installed    []string
	Blacklisted  []string
	TableChanged bool
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		State:        c.State(),
		Installed:    c.profiles.Installed(),
		Blacklisted:  c.profiles.BlacklistedNames(),
		TableChanged: c.profiles.TableChanged(),
	}
	for _, rec := range c.reg.Records() {
		s.Profiles = append(s.Profiles, ProfileInfo{
			ID:          rec.ID,
			Name:        rec.Name,
			Dynamic:     rec.Dynamic,
			Initialized: rec.Initialized(),
			Services:    rec.Services(),
		})
	}
	return s
}
