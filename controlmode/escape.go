// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

// tmux writes %output payloads with every byte below 0x20 and every
// backslash replaced by a three-digit octal escape. Everything else,
// including bytes >= 0x80, passes through unchanged.

// UnescapeOutput decodes a control-mode output payload. It accepts
// \ooo octal escapes and the two-byte \\ form. It reports false for a
// trailing lone backslash or an octal escape above 0377. A backslash
// followed by anything else is kept literally.
func UnescapeOutput(payload []byte) ([]byte, bool) {
	decoded := make([]byte, 0, len(payload))
	for index := 0; index < len(payload); index++ {
		current := payload[index]
		if current != '\\' {
			decoded = append(decoded, current)
			continue
		}
		if index+1 >= len(payload) {
			return nil, false
		}
		next := payload[index+1]
		if next == '\\' {
			decoded = append(decoded, '\\')
			index++
			continue
		}
		if index+3 < len(payload) && isOctal(payload[index+1]) && isOctal(payload[index+2]) && isOctal(payload[index+3]) {
			value := int(payload[index+1]-'0')<<6 | int(payload[index+2]-'0')<<3 | int(payload[index+3]-'0')
			if value > 0xff {
				return nil, false
			}
			decoded = append(decoded, byte(value))
			index += 3
			continue
		}
		decoded = append(decoded, current)
	}
	return decoded, true
}

// EscapeOutput encodes data the way tmux encodes %output payloads.
// UnescapeOutput(EscapeOutput(data)) returns data for every input.
func EscapeOutput(data []byte) []byte {
	encoded := make([]byte, 0, len(data))
	for _, current := range data {
		if current < 0x20 || current == '\\' {
			encoded = append(encoded, '\\', '0'+current>>6, '0'+(current>>3)&7, '0'+current&7)
			continue
		}
		encoded = append(encoded, current)
	}
	return encoded
}

func isOctal(value byte) bool {
	return value >= '0' && value <= '7'
}
