// Package modeltest writes minimal compound documents for tests.
package modeltest

import (
	"encoding/binary"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	sectorSize  = 512
	miniCutoff  = 4096
	freeSect    = 0xFFFFFFFF
	endOfChain  = 0xFFFFFFFE
	fatSect     = 0xFFFFFFFD
	noStream    = 0xFFFFFFFF
	dirEntry    = 128
	typeStream  = 2
	typeRoot    = 5
	colorBlack  = 1
	headerDIFAT = 109
)

// CompoundFile returns a version 3 compound file holding the given
// top-level streams. Streams are padded past the mini-stream cutoff so
// every stream lives in regular sectors.
func CompoundFile(streams map[string][]byte) []byte {
	names := make([]string, 0, len(streams))
	for n := range streams {
		names = append(names, n)
	}
	sort.Strings(names)

	fat := make([]uint32, sectorSize/4)
	for i := range fat {
		fat[i] = freeSect
	}
	fat[0] = fatSect
	fat[1] = endOfChain

	type placed struct {
		name  string
		start uint32
		size  uint32
		data  []byte
	}
	var files []placed
	next := uint32(2)
	for _, n := range names {
		data := streams[n]
		if len(data) < miniCutoff {
			data = append(append([]byte(nil), data...), make([]byte, miniCutoff-len(data))...)
		}
		sectors := uint32((len(data) + sectorSize - 1) / sectorSize)
		for i := uint32(0); i < sectors; i++ {
			if i == sectors-1 {
				fat[next+i] = endOfChain
			} else {
				fat[next+i] = next + i + 1
			}
		}
		padded := make([]byte, int(sectors)*sectorSize)
		copy(padded, data)
		files = append(files, placed{name: n, start: next, size: uint32(len(data)), data: padded})
		next += sectors
	}

	header := make([]byte, sectorSize)
	copy(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le := binary.LittleEndian
	le.PutUint16(header[24:], 0x003E)
	le.PutUint16(header[26:], 0x0003)
	le.PutUint16(header[28:], 0xFFFE)
	le.PutUint16(header[30:], 9)
	le.PutUint16(header[32:], 6)
	le.PutUint32(header[44:], 1)
	le.PutUint32(header[48:], 1)
	le.PutUint32(header[56:], miniCutoff)
	le.PutUint32(header[60:], endOfChain)
	le.PutUint32(header[68:], endOfChain)
	le.PutUint32(header[76:], 0)
	for i := 1; i < headerDIFAT; i++ {
		le.PutUint32(header[76+4*i:], freeSect)
	}

	fatBytes := make([]byte, sectorSize)
	for i, v := range fat {
		le.PutUint32(fatBytes[4*i:], v)
	}

	dir := make([]byte, sectorSize)
	for i := 0; i < sectorSize/dirEntry; i++ {
		e := dir[i*dirEntry : (i+1)*dirEntry]
		le.PutUint32(e[68:], noStream)
		le.PutUint32(e[72:], noStream)
		le.PutUint32(e[76:], noStream)
	}
	root := dir[:dirEntry]
	putName(root, "Root Entry")
	root[66], root[67] = typeRoot, colorBlack
	if len(files) > 0 {
		le.PutUint32(root[76:], 1)
	}
	le.PutUint32(root[116:], endOfChain)
	for i, f := range files {
		e := dir[(i+1)*dirEntry : (i+2)*dirEntry]
		putName(e, f.name)
		e[66], e[67] = typeStream, colorBlack
		if i+1 < len(files) {
			le.PutUint32(e[72:], uint32(i+2))
		}
		le.PutUint32(e[116:], f.start)
		le.PutUint32(e[120:], f.size)
	}

	out := append(header, fatBytes...)
	out = append(out, dir...)
	for _, f := range files {
		out = append(out, f.data...)
	}
	return out
}

func putName(entry []byte, name string) {
	units := utf16LE(name)
	copy(entry[:64], units)
	binary.LittleEndian.PutUint16(entry[64:], uint16(len(units)+2))
}

func utf16LE(s string) []byte {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return b
}

// BasicInfo encodes record lines the way the BasicFileInfo stream stores
// them: binary fields followed by UTF-16LE text.
func BasicInfo(lines ...string) []byte {
	out := []byte{0x04, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	return append(out, utf16LE(strings.Join(lines, "\r\n")+"\r\n")...)
}

// Project returns BasicFileInfo lines for a document saved by build (for
// example "20230308_1635(x64)") with the given format year.
func Project(build, format string) []string {
	return []string{
		"Worksharing: Not enabled",
		"Username: ",
		"Central Model Path: ",
		"Format: " + format,
		"Build: " + build,
		"Last Save Path: C:\\Projects\\model.rvt",
		"Open Workset Default: 3",
		"Unique Document GUID: 6f1c2f0e-3f5b-4c8e-9a59-1f2d8b1e9c44",
		"Unique Document Increments: 12",
	}
}

// WriteModel writes a document at path with the given BasicFileInfo lines
// and optional PartAtom XML.
func WriteModel(path string, basicInfo []string, partAtom string) error {
	streams := map[string][]byte{"BasicFileInfo": BasicInfo(basicInfo...)}
	if partAtom != "" {
		streams["PartAtom"] = []byte(partAtom)
	}
	return os.WriteFile(path, CompoundFile(streams), 0644)
}
