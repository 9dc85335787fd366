package qr

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Scanner firmware in the field emits Shift-JIS. Frames are decoded
// tolerantly (bad bytes become replacement runes, never a dropped frame) and
// re-encoded only for raw dumps and byte-budget truncation.

// DecodeShiftJIS converts raw scanner bytes to a UTF-8 string. Undecodable
// bytes are substituted, not fatal.
func DecodeShiftJIS(b []byte) string {
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

// EncodeShiftJIS converts a string back to Shift-JIS bytes, replacing
// unencodable runes.
func EncodeShiftJIS(s string) []byte {
	enc := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	encoded, _, err := transform.Bytes(enc, []byte(s))
	if err != nil {
		return []byte(s)
	}
	return encoded
}

// TruncateShiftJIS cuts a string so its Shift-JIS encoding fits maxBytes,
// never splitting a two-byte sequence.
func TruncateShiftJIS(s string, maxBytes int) string {
	encoded := EncodeShiftJIS(s)
	if len(encoded) <= maxBytes {
		decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), encoded)
		if err != nil {
			return s
		}
		return string(decoded)
	}

	cut := 0
	for cut < maxBytes {
		b := encoded[cut]
		if (b >= 0x81 && b <= 0x9F) || (b >= 0xE0 && b <= 0xFC) {
			// Lead byte of a two-byte sequence.
			if cut+2 > maxBytes {
				break
			}
			cut += 2
		} else {
			cut++
		}
	}

	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), encoded[:cut])
	if err != nil {
		return string(encoded[:cut])
	}
	return string(decoded)
}
