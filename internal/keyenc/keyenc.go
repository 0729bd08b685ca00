// Package keyenc maps arbitrary storage keys onto the restricted key
// alphabets of backends such as ConfigMaps and NATS KV buckets.
package keyenc

import "strings"

const hexDigits = "0123456789ABCDEF"

// Encoding escapes every byte Valid rejects as Escape followed by two
// upper-case hex digits. Escape itself is always escaped, so the mapping is
// reversible.
type Encoding struct {
	Escape byte
	Valid  func(c byte) bool
}

// Encode maps key into the valid alphabet.
func (e Encoding) Encode(key string) string {
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c != e.Escape && e.Valid(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte(e.Escape)
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0F])
	}
	return sb.String()
}

// Decode reverses Encode. Malformed escapes are kept verbatim.
func (e Encoding) Decode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == e.Escape && i+2 < len(s) {
			hi := strings.IndexByte(hexDigits, s[i+1])
			lo := strings.IndexByte(hexDigits, s[i+2])
			if hi >= 0 && lo >= 0 {
				sb.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Alnum reports whether c is an ASCII letter or digit.
func Alnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
