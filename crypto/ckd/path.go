// Copyright (c) 2024 GuardianVault contributors. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ckd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HardenedKeyStart is the first hardened child index, 2^31.
const HardenedKeyStart uint32 = 0x80000000

// ParseDerivationPath parses a BIP-32 path string into child indices.
// Example: "m/44'/60'/0'/0/0" -> [44+H, 60+H, 0+H, 0, 0]. Hardened
// components may be suffixed with ', h or H.
func ParseDerivationPath(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return nil, errors.New("empty derivation path")
	}
	if parts[0] == "m" {
		parts = parts[1:]
	}

	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}
		val, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid path component: %s", part)
		}
		index := uint32(val)
		if index >= HardenedKeyStart {
			return nil, errors.Errorf("path component %s exceeds hardened offset", part)
		}
		if hardened {
			index |= HardenedKeyStart
		}
		indices = append(indices, index)
	}
	return indices, nil
}

// FormatPath renders indices back into an "m/..." path string.
func FormatPath(indices []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, idx := range indices {
		if idx >= HardenedKeyStart {
			fmt.Fprintf(&b, "/%d'", idx-HardenedKeyStart)
		} else {
			fmt.Fprintf(&b, "/%d", idx)
		}
	}
	return b.String()
}

// IsHardened reports whether the index selects a hardened child.
func IsHardened(index uint32) bool {
	return index >= HardenedKeyStart
}
