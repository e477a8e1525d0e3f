package domain

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// canonicalWriter feeds a hash with self-delimiting fields: every variable-length
// value is preceded by its uvarint length and every list by its uvarint count.
type canonicalWriter struct {
	h   hash.Hash
	buf [binary.MaxVarintLen64]byte
}

func newCanonicalWriter(h hash.Hash) *canonicalWriter {
	return &canonicalWriter{h: h}
}

func (w *canonicalWriter) uvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.h.Write(w.buf[:n])
}

func (w *canonicalWriter) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.h.Write(b[:])
}

func (w *canonicalWriter) str(s string) {
	w.uvarint(uint64(len(s)))
	w.h.Write([]byte(s))
}

func (w *canonicalWriter) strs(ss []string) {
	w.uvarint(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// stringMap writes a map as a counted list of key/value pairs in key order.
func (w *canonicalWriter) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.uvarint(uint64(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(m[k])
	}
}

func (w *canonicalWriter) sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}
