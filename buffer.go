// SPDX-License-Identifier: Apache-2.0

package secneg

// BufferType tags a region within a protection descriptor.  Providers
// expect an exact ordering and tagging of buffers for each per-message
// operation; a mismatch fails the operation rather than silently
// corrupting data.
type BufferType uint8

const (
	// BufferTypeToken holds provider-generated trailer or signature material
	BufferTypeToken BufferType = iota
	// BufferTypeData holds application data, possibly modified in place
	BufferTypeData
	// BufferTypeSignature holds a detached signature supplied by the caller
	BufferTypeSignature
	// BufferTypePadding holds provider padding
	BufferTypePadding
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeToken:
		return "token"
	case BufferTypeData:
		return "data"
	case BufferTypeSignature:
		return "signature"
	case BufferTypePadding:
		return "padding"
	}

	return "unknown"
}

// Buffer is one tagged region of a protection descriptor.  Lengths are
// exact byte counts; no implicit terminators.  Providers may reslice
// Bytes to the region actually produced.
type Buffer struct {
	Type  BufferType
	Bytes []byte
}

// CheckBufferOrder verifies that bufs carries exactly the buffer types
// in want, in order.  Providers use it to validate descriptors before
// touching the provider-owned context.
func CheckBufferOrder(bufs []Buffer, want ...BufferType) error {
	if len(bufs) != len(want) {
		return &ProviderError{Op: "buffer", Status: StatusInvalidBuffer}
	}

	for i, w := range want {
		if bufs[i].Type != w {
			return &ProviderError{Op: "buffer", Status: StatusInvalidBuffer}
		}
	}

	return nil
}
