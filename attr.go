package gatt

import "strings"

// Do not re-order the bit flags below;
// they are organized to match the BLE spec.

// A Property is a set of characteristic property flags. The same bits
// are used as attribute permissions: PropRead grants read access and
// PropWrite or PropWriteNR grant write access.
type Property uint

// Characteristic property flags.
const (
	PropBroadcast Property = 1 << iota // the characteristic value may be broadcast
	PropRead                           // the characteristic may be read
	PropWriteNR                        // the characteristic may be written to, with no reply
	PropWrite                          // the characteristic may be written to, with a reply
	PropNotify                         // the characteristic supports notifications
	PropIndicate                       // the characteristic supports indications
)

const propWriteAny = PropWrite | PropWriteNR

var propNames = []string{"broadcast", "read", "writeWithoutResponse", "write", "notify", "indicate"}

func (p Property) String() string {
	var names []string
	for i, name := range propNames {
		if p&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, " ")
}

// Auth is the access requirement the attribute table enforces for
// one direction (read or write) of an attribute.
type Auth int

const (
	AuthNone         Auth = iota // access permitted without authentication
	AuthRequired                 // access requires an authenticated link
	AuthNotPermitted             // access is never permitted
)

func (a Auth) String() string {
	str := []string{
		"none",
		"authentication required",
		"not permitted",
	}
	if a < 0 || int(a) >= len(str) {
		return "unknown"
	}
	return str[int(a)]
}

// authFor derives the requirement for the permission bits in mask.
func authFor(perm, auth, mask Property) Auth {
	switch {
	case perm&mask == 0:
		return AuthNotPermitted
	case auth&mask != 0:
		return AuthRequired
	default:
		return AuthNone
	}
}

type attrKind int

const (
	kindService attrKind = iota
	kindInclude
	kindCharacteristic
	kindCharacteristicValue
	kindCCC
	kindDescriptor
)

// An Attribute is one slot of a service definition. Its handle is
// zero until the owning service has been registered.
type Attribute struct {
	typ     UUID
	h       uint16
	kind    attrKind
	read    Auth
	write   Auth
	value   []byte
	handler Handler

	svc  *Service
	char *Characteristic
}

// UUID returns the attribute type.
func (a *Attribute) UUID() UUID { return a.typ }

// Handle returns the attribute handle, or zero if not registered.
func (a *Attribute) Handle() uint16 { return a.h }

// Value returns the static value, if any.
func (a *Attribute) Value() []byte { return a.value }

// ReadAuth returns the read requirement.
func (a *Attribute) ReadAuth() Auth { return a.read }

// WriteAuth returns the write requirement.
func (a *Attribute) WriteAuth() Auth { return a.write }

// Characteristic returns the characteristic a belongs to, if any.
func (a *Attribute) Characteristic() *Characteristic { return a.char }

func (a *Attribute) params() AttributeParams {
	return AttributeParams{
		Handle:      a.h,
		UUID:        a.typ,
		Read:        a.read,
		Write:       a.write,
		Value:       a.value,
		HasCallback: a.handler != nil,
	}
}

// AttributeParams is an attribute as it is handed to the attribute table.
type AttributeParams struct {
	Handle      uint16
	UUID        UUID
	Read        Auth
	Write       Auth
	Value       []byte
	HasCallback bool
}

// An attrRange is a contiguous range of attributes.
type attrRange struct {
	aa   []*Attribute
	base uint16 // handle for first attr in aa
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into aa corresponding to attr a.
// If h is too small, idx returns tooSmall (-1).
// If h is too large, idx returns tooLarge (-2).
func (r *attrRange) idx(h int) int {
	if h < int(r.base) {
		return tooSmall
	}
	if h >= int(r.base)+len(r.aa) {
		return tooLarge
	}
	return h - int(r.base)
}

// At returns attr at handle h.
func (r *attrRange) At(h uint16) (a *Attribute, ok bool) {
	i := r.idx(int(h))
	if i < 0 {
		return nil, false
	}
	return r.aa[i], true
}
