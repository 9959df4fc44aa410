package host

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/go-gatt/settings"
)

// Persisted keys.
const (
	KeyInstalled    = "gatt.profiles.installed"
	KeyTableChanged = "gatt.table.changed"
)

// BlacklistKey returns the key of a profile's blacklist flag.
func BlacklistKey(name string) string {
	return "gatt.profile." + name + ".blacklisted"
}

// Profiles is the persistent profile state: the installed package set,
// the per-profile blacklist flags, and the attribute table changed flag.
// Store errors are logged; the in-memory view of a store stays current
// even when saving fails.
type Profiles struct {
	s      settings.Store
	logger *logrus.Logger
}

func NewProfiles(s settings.Store, l *logrus.Logger) *Profiles {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Profiles{s: s, logger: l}
}

func (p *Profiles) check(err error, key string) {
	if err != nil {
		p.logger.WithError(err).WithField("key", key).Error("settings not saved")
	}
}

// Installed returns the installed profile packages, sorted.
func (p *Profiles) Installed() []string {
	return p.s.GetStringSet(KeyInstalled)
}

// IsInstalled reports whether name is installed.
func (p *Profiles) IsInstalled(name string) bool {
	for _, n := range p.Installed() {
		if n == name {
			return true
		}
	}
	return false
}

// Install adds name to the installed set. It reports whether the set changed.
func (p *Profiles) Install(name string) (bool, error) {
	if name == "" {
		return false, errors.New("empty profile name")
	}
	set := p.Installed()
	for _, n := range set {
		if n == name {
			return false, nil
		}
	}
	err := p.s.PutStringSet(KeyInstalled, append(set, name))
	p.check(err, KeyInstalled)
	return true, err
}

// Uninstall removes name from the installed set. It reports whether the set changed.
func (p *Profiles) Uninstall(name string) (bool, error) {
	set := p.Installed()
	kept := set[:0]
	for _, n := range set {
		if n != name {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(set) {
		return false, nil
	}
	err := p.s.PutStringSet(KeyInstalled, kept)
	p.check(err, KeyInstalled)
	return true, err
}

// Blacklisted reports whether name is blacklisted.
func (p *Profiles) Blacklisted(name string) bool {
	return p.s.GetInt(BlacklistKey(name), 0) != 0
}

// SetBlacklisted sets or clears the blacklist flag of name.
func (p *Profiles) SetBlacklisted(name string, b bool) {
	key := BlacklistKey(name)
	if b {
		p.check(p.s.PutInt(key, 1), key)
		return
	}
	p.check(p.s.Remove(key), key)
}

// BlacklistedNames returns every blacklisted profile, sorted.
func (p *Profiles) BlacklistedNames() []string {
	const prefix, suffix = "gatt.profile.", ".blacklisted"
	var names []string
	for _, k := range p.s.Keys() {
		if !strings.HasPrefix(k, prefix) || !strings.HasSuffix(k, suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(k, prefix), suffix)
		if p.Blacklisted(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TableChanged reports whether connected peers still have to be told
// that the attribute table changed.
func (p *Profiles) TableChanged() bool {
	return p.s.GetInt(KeyTableChanged, 0) != 0
}

func (p *Profiles) SetTableChanged(b bool) {
	v := 0
	if b {
		v = 1
	}
	p.check(p.s.PutInt(KeyTableChanged, v), KeyTableChanged)
}
