// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package strictopts decodes the untyped option/detail/extra maps that
// appear throughout the WAMP wire protocol with one extra guarantee the
// standard library does not give: a JSON object carrying the same key
// in two case-variant spellings (like "match" and "Match") is rejected
// instead of silently resolving to whichever occurrence encoding/json
// happens to keep. A key repeated with identical spelling is not
// detected; encoding/json keeps its last value. Adapted from StrictUnmarshal
// (internal/jsonrpc2/strict.go); unlike that function, there is no fixed
// struct schema to validate field names against here, so only the
// duplicate-key detection survives the adaptation.
package strictopts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeMap decodes data (a JSON object, or "null"/empty for no options)
// into a map[string]any, rejecting case-variant duplicate keys anywhere
// in the structure. Exact repeats of a key are not rejected.
func DecodeMap(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return map[string]any{}, nil
	}
	if err := checkNoDuplicateKeys(data); err != nil {
		return nil, fmt.Errorf("strictopts: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("strictopts: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// checkNoDuplicateKeys rejects a JSON object (recursively, including
// nested objects and arrays) that carries the same key spelled two ways
// that only differ by case.
func checkNoDuplicateKeys(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		seen := make(map[string]string, len(obj))
		for key := range obj {
			lower := strings.ToLower(key)
			if original, exists := seen[lower]; exists && original != key {
				return fmt.Errorf("duplicate key with different case: %q and %q", original, key)
			}
			seen[lower] = key
		}
		for key, val := range obj {
			if err := checkNoDuplicateKeys(val); err != nil {
				return fmt.Errorf("in field %q: %w", key, err)
			}
		}
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		for i, elem := range arr {
			if err := checkNoDuplicateKeys(elem); err != nil {
				return fmt.Errorf("in array index %d: %w", i, err)
			}
		}
		return nil
	}

	return nil
}
