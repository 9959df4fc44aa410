package gatt

import "fmt"

// A Status is the result of a read, write or indication, as
// carried across the ATT boundary.
type Status byte

// Supported statuses. Values 0x01-0x11 are the standard ATT error codes;
// 0x80-0x82 are application-defined.
const (
	StatusSuccess             Status = 0x00
	StatusInvalidHandle       Status = 0x01
	StatusReadNotPermitted    Status = 0x02
	StatusWriteNotPermitted   Status = 0x03
	StatusInvalidPDU          Status = 0x04
	StatusAuthentication      Status = 0x05
	StatusRequestNotSupported Status = 0x06
	StatusInvalidOffset       Status = 0x07
	StatusAuthorization       Status = 0x08
	StatusPrepareQueueFull    Status = 0x09
	StatusAttrNotFound        Status = 0x0a
	StatusAttrNotLong         Status = 0x0b
	StatusInsuffEncrKeySize   Status = 0x0c
	StatusInvalAttrValueLen   Status = 0x0d
	StatusUnlikely            Status = 0x0e
	StatusInsuffEncryption    Status = 0x0f
	StatusUnsuppGroupType     Status = 0x10
	StatusInsuffResources     Status = 0x11

	StatusIOError Status = 0x80
	StatusTimeout Status = 0x81
	StatusAborted Status = 0x82
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusInvalidHandle:       "invalid handle",
	StatusReadNotPermitted:    "read not permitted",
	StatusWriteNotPermitted:   "write not permitted",
	StatusInvalidPDU:          "invalid pdu",
	StatusAuthentication:      "insufficient authentication",
	StatusRequestNotSupported: "request not supported",
	StatusInvalidOffset:       "invalid offset",
	StatusAuthorization:       "insufficient authorization",
	StatusPrepareQueueFull:    "prepare queue full",
	StatusAttrNotFound:        "attribute not found",
	StatusAttrNotLong:         "attribute not long",
	StatusInsuffEncrKeySize:   "insufficient encryption key size",
	StatusInvalAttrValueLen:   "invalid attribute value length",
	StatusUnlikely:            "unlikely error",
	StatusInsuffEncryption:    "insufficient encryption",
	StatusUnsuppGroupType:     "unsupported group type",
	StatusInsuffResources:     "insufficient resources",
	StatusIOError:             "i/o error",
	StatusTimeout:             "timeout",
	StatusAborted:             "aborted",
}

// StatusFromInt decodes a numeric status. Values outside the
// enumeration decode to StatusIOError.
func StatusFromInt(n int) Status {
	if n < 0 || n > 0xff {
		return StatusIOError
	}
	if _, ok := statusNames[Status(n)]; !ok {
		return StatusIOError
	}
	return Status(n)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02x", byte(s))
}
