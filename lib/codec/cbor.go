// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the registry's standard CBOR encoding
// configuration.
//
// The registry persists small internal records such as blob sidecar
// metadata as CBOR (RFC 8949) rather than JSON:
// the records carry binary hashes that JSON would force through hex
// or base64, and deterministic encoding means a re-written record
// with unchanged contents is byte-identical, which keeps dedup and
// comparison logic trivial.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. The decoder ignores unknown fields for forward
// compatibility.
//
// Internal-only types use `cbor` struct tags. Types that also appear
// in HTTP responses use `json` tags; fxamacker/cbor falls back to
// json tags, so one tag controls field naming for both formats.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding. Same logical data always produces identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// The registry never uses non-string map keys. When the
		// decoder's target is any, it must pick a concrete Go map
		// type; the CBOR default map[interface{}]interface{} is
		// incompatible with most Go code expecting map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
