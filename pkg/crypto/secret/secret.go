// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package secret provides helpers for holding and destroying secret material
// such as private scalars, ECDH shared secrets, derived keys and share
// plaintext.
//
// Go's garbage collector may copy memory and crypto libraries may keep their
// own copies, so wiping cannot guarantee complete sanitization. It does
// guarantee that the buffers owned by this module are zeroed on every exit
// path, including error returns and panics.
package secret

import "runtime"

// Wipe overwrites buf with zeros. runtime.KeepAlive prevents the stores from
// being eliminated as dead.
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}

// WipeAll wipes every buffer in bufs. Nil entries are ignored.
func WipeAll(bufs ...[]byte) {
	for _, b := range bufs {
		Wipe(b)
	}
}

// IsZero reports whether every byte of buf is zero.
func IsZero(buf []byte) bool {
	var acc byte
	for _, b := range buf {
		acc |= b
	}
	return acc == 0
}

// Buffer owns a secret byte slice until Destroy is called.
type Buffer struct {
	b []byte
}

// NewBuffer allocates a zeroed Buffer of n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{b: make([]byte, n)}
}

// Adopt takes ownership of b. The caller must not use b after Destroy.
func Adopt(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Bytes returns the underlying slice, or nil once destroyed.
func (s *Buffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the buffer length.
func (s *Buffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Destroy wipes and releases the buffer. Safe to call more than once.
func (s *Buffer) Destroy() {
	if s == nil || s.b == nil {
		return
	}
	Wipe(s.b)
	s.b = nil
}

// Do allocates an n-byte buffer, passes it to fn and wipes it when fn
// returns or panics.
func Do(n int, fn func(buf []byte) error) error {
	buf := NewBuffer(n)
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Use passes b to fn and wipes b afterwards, whatever fn does.
func Use(b []byte, fn func(b []byte) error) error {
	defer Wipe(b)
	return fn(b)
}
