// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"fmt"
	"strings"
)

// luhn32Alphabet is the Base32 alphabet used for device ID check digits.
const luhn32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// luhn32Generate returns a Luhn mod-32 check digit for s.
func luhn32Generate(s string) (rune, error) {
	factor := 1
	sum := 0
	n := len(luhn32Alphabet)

	for i := range s {
		codepoint := strings.IndexByte(luhn32Alphabet, s[i])
		if codepoint == -1 {
			return 0, fmt.Errorf("digit %q not valid in device ID alphabet", s[i])
		}
		addend := factor * codepoint
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		addend = (addend / n) + (addend % n)
		sum += addend
	}
	remainder := sum % n
	checkCodepoint := (n - remainder) % n
	return rune(luhn32Alphabet[checkCodepoint]), nil
}
