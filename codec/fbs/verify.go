package fbs

import (
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pkg/errors"
)

type fieldSpec struct {
	name   string
	size   int
	string bool
}

var (
	requestFields = []fieldSpec{
		{name: "id", size: flatbuffers.SizeUint64},
	}
	responseFields = []fieldSpec{
		{name: "id", size: flatbuffers.SizeUint64},
		{name: "message", size: flatbuffers.SizeUOffsetT, string: true},
		{name: "success", size: flatbuffers.SizeBool},
	}
)

// VerifyRequest checks that every offset reachable from a Request root stays inside buf.
func VerifyRequest(buf []byte) error {
	return verifyTable(buf, "Request", requestFields)
}

// VerifyResponse checks that every offset reachable from a Response root stays inside buf.
func VerifyResponse(buf []byte) error {
	return verifyTable(buf, "Response", responseFields)
}

// verifyTable walks root offset -> table -> vtable -> fields. Fields missing
// from a shorter vtable are legal and read as defaults.
func verifyTable(buf []byte, table string, fields []fieldSpec) error {
	if !inRange(buf, 0, flatbuffers.SizeUOffsetT) {
		return errors.Errorf("%s: buffer too short (%d bytes)", table, len(buf))
	}
	root := int(flatbuffers.GetUOffsetT(buf))
	if !inRange(buf, root, flatbuffers.SizeSOffsetT) {
		return errors.Errorf("%s: root offset %d out of range", table, root)
	}

	vt := root - int(flatbuffers.GetSOffsetT(buf[root:]))
	if !inRange(buf, vt, 2*flatbuffers.SizeVOffsetT) {
		return errors.Errorf("%s: vtable offset %d out of range", table, vt)
	}
	vtLen := int(flatbuffers.GetVOffsetT(buf[vt:]))
	objLen := int(flatbuffers.GetVOffsetT(buf[vt+flatbuffers.SizeVOffsetT:]))
	if vtLen < 2*flatbuffers.SizeVOffsetT || vtLen%flatbuffers.SizeVOffsetT != 0 || !inRange(buf, vt, vtLen) {
		return errors.Errorf("%s: bad vtable length %d", table, vtLen)
	}
	if objLen < flatbuffers.SizeSOffsetT || !inRange(buf, root, objLen) {
		return errors.Errorf("%s: bad table length %d", table, objLen)
	}

	for i, f := range fields {
		slot := 2*flatbuffers.SizeVOffsetT + i*flatbuffers.SizeVOffsetT
		if slot+flatbuffers.SizeVOffsetT > vtLen {
			continue
		}
		off := int(flatbuffers.GetVOffsetT(buf[vt+slot:]))
		if off == 0 {
			continue
		}
		if off+f.size > objLen {
			return errors.Errorf("%s.%s: field offset %d past table end", table, f.name, off)
		}
		if !f.string {
			continue
		}
		pos := root + off
		str := pos + int(flatbuffers.GetUOffsetT(buf[pos:]))
		if !inRange(buf, str, flatbuffers.SizeUOffsetT) {
			return errors.Errorf("%s.%s: string offset %d out of range", table, f.name, str)
		}
		n := int(flatbuffers.GetUOffsetT(buf[str:]))
		if !inRange(buf, str+flatbuffers.SizeUOffsetT, n) {
			return errors.Errorf("%s.%s: string length %d out of range", table, f.name, n)
		}
	}
	return nil
}

func inRange(buf []byte, pos, n int) bool {
	return pos >= 0 && n >= 0 && pos+n <= len(buf)
}
