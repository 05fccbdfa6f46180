// SPDX-License-Identifier: Apache-2.0

package secneg

import "strings"

// ContextFlag values describe the protections requested for, or
// negotiated on, a security context.
type ContextFlag uint32

const (
	ContextFlagDeleg    ContextFlag = 1 << iota // delegate credentials, not currently supported
	ContextFlagMutual                           // request remote peer authenticates itself
	ContextFlagReplay                           // enable replay detection for protected messages
	ContextFlagSequence                         // enable detection of out of sequence protected messages
	ContextFlagConf                             // confidentiality available
	ContextFlagInteg                            // integrity available
)

// DefaultFlags is the flag set requested by both engine roles when the
// caller supplies none: integrity, sequencing, replay detection and
// confidentiality.
const DefaultFlags = ContextFlagInteg | ContextFlagSequence | ContextFlagReplay | ContextFlagConf

// FlagList returns a slice of individual flags derived from the
// composite value f
func FlagList(f ContextFlag) (fl []ContextFlag) {
	t := ContextFlag(1)
	for i := 0; i < 32; i++ {
		if f&t != 0 {
			fl = append(fl, t)
		}

		t <<= 1
	}

	return
}

// FlagName returns a human-readable description of a context flag value
func FlagName(f ContextFlag) string {
	switch f {
	case ContextFlagDeleg:
		return "Delegation"
	case ContextFlagMutual:
		return "Mutual authentication"
	case ContextFlagReplay:
		return "Message replay detection"
	case ContextFlagSequence:
		return "Out of sequence message detection"
	case ContextFlagConf:
		return "Confidentiality"
	case ContextFlagInteg:
		return "Integrity"
	}

	return "Unknown"
}

func (f ContextFlag) String() string {
	var names []string
	for _, flag := range FlagList(f) {
		names = append(names, FlagName(flag))
	}

	return strings.Join(names, ", ")
}
