package testutil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"unicode/utf16"
)

const (
	peFileAlign = 0x200
	peSectAlign = 0x1000
	peLfanew    = 0x80

	// Section characteristics used by the builder.
	scnCode  = 0x60000020 // CNT_CODE | MEM_EXECUTE | MEM_READ
	scnData  = 0x40000040 // CNT_INITIALIZED_DATA | MEM_READ
	scnWrite = 0xC0000040 // CNT_INITIALIZED_DATA | MEM_READ | MEM_WRITE
)

// PEImport describes one imported library for PEBuilder.
type PEImport struct {
	Library  string
	Names    []string
	Ordinals []uint16
}

// PESection is an extra raw section appended after the generated ones.
type PESection struct {
	Name        string
	Data        []byte
	VirtualSize uint32
	Writable    bool
}

// PEBuilder assembles small but well-formed PE images for tests.
//
// The image always contains a .text section holding the entry point. An
// .rdata section is added when exports or imports are configured, and an
// .rsrc section when version info is configured.
type PEBuilder struct {
	Machine       uint16
	Plus          bool
	DLL           bool
	Subsystem     uint16
	TimeDateStamp uint32
	Code          []byte
	EntryPoint    uint32

	exportName string
	exportBase uint32
	exports    []string
	hasExports bool

	imports     []PEImport
	versionInfo map[string]string
	extra       []PESection
}

// NewPEBuilder returns a builder for an i386 console executable.
func NewPEBuilder() *PEBuilder {
	code := bytes.Repeat([]byte{0x90}, 0x40)
	code[len(code)-1] = 0xC3
	return &PEBuilder{
		Machine:       pe.IMAGE_FILE_MACHINE_I386,
		Subsystem:     pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		TimeDateStamp: 0x5F5E1000,
		Code:          code,
		EntryPoint:    peSectAlign,
	}
}

// WithExports adds an export directory. Functions are numbered from base in
// order; an empty name exports that ordinal without a name.
func (b *PEBuilder) WithExports(library string, base uint32, names ...string) *PEBuilder {
	b.hasExports = true
	b.exportName = library
	b.exportBase = base
	b.exports = append([]string(nil), names...)
	return b
}

// WithImport adds an import descriptor for library.
func (b *PEBuilder) WithImport(library string, names []string, ordinals ...uint16) *PEBuilder {
	b.imports = append(b.imports, PEImport{Library: library, Names: names, Ordinals: ordinals})
	return b
}

// WithVersionInfo adds an RT_VERSION resource whose StringFileInfo holds fields.
func (b *PEBuilder) WithVersionInfo(fields map[string]string) *PEBuilder {
	b.versionInfo = fields
	return b
}

// WithSection appends a raw section.
func (b *PEBuilder) WithSection(s PESection) *PEBuilder {
	b.extra = append(b.extra, s)
	return b
}

type peSection struct {
	name  string
	data  []byte
	vsize uint32
	chars uint32
	va    uint32
}

// Bytes renders the image.
func (b *PEBuilder) Bytes() []byte {
	var dirs [16]pe.DataDirectory

	sections := []*peSection{{name: ".text", data: b.Code, chars: scnCode}}
	va := uint32(peSectAlign)
	nextVA := func(s *peSection) uint32 {
		size := uint32(len(s.data))
		if s.vsize > size {
			size = s.vsize
		}
		if size == 0 {
			size = 1
		}
		return alignUp(size, peSectAlign)
	}
	sections[0].va = va
	va += nextVA(sections[0])

	if b.hasExports || len(b.imports) > 0 {
		rd := &rvaBuffer{base: va}
		if b.hasExports {
			dirs[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = b.buildExports(rd)
		}
		if len(b.imports) > 0 {
			dirs[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = b.buildImports(rd)
		}
		s := &peSection{name: ".rdata", data: rd.data, chars: scnData, va: va}
		sections = append(sections, s)
		va += nextVA(s)
	}

	if b.versionInfo != nil {
		rd := &rvaBuffer{base: va}
		dirs[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE] = buildVersionResource(rd, versionInfoBlob(b.versionInfo))
		s := &peSection{name: ".rsrc", data: rd.data, chars: scnData, va: va}
		sections = append(sections, s)
		va += nextVA(s)
	}

	for _, x := range b.extra {
		chars := uint32(scnData)
		if x.Writable {
			chars = scnWrite
		}
		s := &peSection{name: x.Name, data: x.Data, vsize: x.VirtualSize, chars: chars, va: va}
		sections = append(sections, s)
		va += nextVA(s)
	}

	optSize := uint16(224)
	if b.Plus {
		optSize = 240
	}
	headerEnd := uint32(peLfanew + 4 + 20 + int(optSize) + 40*len(sections))
	sizeOfHeaders := alignUp(headerEnd, peFileAlign)

	characteristics := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE)
	if b.Plus {
		characteristics = pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE
	}
	if b.DLL {
		characteristics |= pe.IMAGE_FILE_DLL
	}

	var buf bytes.Buffer
	dos := make([]byte, peLfanew)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], peLfanew)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	mustWrite(&buf, pe.FileHeader{
		Machine:              b.Machine,
		NumberOfSections:     uint16(len(sections)),
		TimeDateStamp:        b.TimeDateStamp,
		SizeOfOptionalHeader: optSize,
		Characteristics:      characteristics,
	})

	if b.Plus {
		mustWrite(&buf, pe.OptionalHeader64{
			Magic:                 0x20b,
			SizeOfCode:            alignUp(uint32(len(b.Code)), peFileAlign),
			AddressOfEntryPoint:   b.EntryPoint,
			BaseOfCode:            peSectAlign,
			ImageBase:             0x140000000,
			SectionAlignment:      peSectAlign,
			FileAlignment:         peFileAlign,
			MajorSubsystemVersion: 6,
			SizeOfImage:           va,
			SizeOfHeaders:         sizeOfHeaders,
			Subsystem:             b.Subsystem,
			SizeOfStackReserve:    0x100000,
			SizeOfStackCommit:     0x1000,
			SizeOfHeapReserve:     0x100000,
			SizeOfHeapCommit:      0x1000,
			NumberOfRvaAndSizes:   16,
			DataDirectory:         dirs,
		})
	} else {
		mustWrite(&buf, pe.OptionalHeader32{
			Magic:                 0x10b,
			SizeOfCode:            alignUp(uint32(len(b.Code)), peFileAlign),
			AddressOfEntryPoint:   b.EntryPoint,
			BaseOfCode:            peSectAlign,
			ImageBase:             0x400000,
			SectionAlignment:      peSectAlign,
			FileAlignment:         peFileAlign,
			MajorSubsystemVersion: 4,
			SizeOfImage:           va,
			SizeOfHeaders:         sizeOfHeaders,
			Subsystem:             b.Subsystem,
			SizeOfStackReserve:    0x100000,
			SizeOfStackCommit:     0x1000,
			SizeOfHeapReserve:     0x100000,
			SizeOfHeapCommit:      0x1000,
			NumberOfRvaAndSizes:   16,
			DataDirectory:         dirs,
		})
	}

	offset := sizeOfHeaders
	for _, s := range sections {
		var name [8]uint8
		copy(name[:], s.name)
		raw := alignUp(uint32(len(s.data)), peFileAlign)
		vsize := uint32(len(s.data))
		if s.vsize != 0 {
			vsize = s.vsize
		}
		ptr := offset
		if raw == 0 {
			ptr = 0
		}
		mustWrite(&buf, pe.SectionHeader32{
			Name:             name,
			VirtualSize:      vsize,
			VirtualAddress:   s.va,
			SizeOfRawData:    raw,
			PointerToRawData: ptr,
			Characteristics:  s.chars,
		})
		offset += raw
	}

	buf.Write(make([]byte, int(sizeOfHeaders)-buf.Len()))
	for _, s := range sections {
		raw := alignUp(uint32(len(s.data)), peFileAlign)
		buf.Write(s.data)
		buf.Write(make([]byte, int(raw)-len(s.data)))
	}

	return buf.Bytes()
}

// WriteFile renders the image to path, creating parent directories.
func (b *PEBuilder) WriteFile(t testing.TB, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func (b *PEBuilder) buildExports(rd *rvaBuffer) pe.DataDirectory {
	dirOff := rd.alloc(40)
	n := len(b.exports)
	funcsOff := rd.alloc(4 * n)

	var named []int
	for i, name := range b.exports {
		if name != "" {
			named = append(named, i)
		}
	}
	namesOff := rd.alloc(4 * len(named))
	ordsOff := rd.alloc(2 * len(named))
	libRVA := rd.str(b.exportName)

	rd.put32(dirOff+12, libRVA)
	rd.put32(dirOff+16, b.exportBase)
	rd.put32(dirOff+20, uint32(n))
	rd.put32(dirOff+24, uint32(len(named)))
	rd.put32(dirOff+28, rd.rva(funcsOff))
	rd.put32(dirOff+32, rd.rva(namesOff))
	rd.put32(dirOff+36, rd.rva(ordsOff))

	for i := 0; i < n; i++ {
		rd.put32(funcsOff+4*i, peSectAlign+uint32(i))
	}
	for j, idx := range named {
		rd.put32(namesOff+4*j, rd.str(b.exports[idx]))
		rd.put16(ordsOff+2*j, uint16(idx))
	}

	return pe.DataDirectory{VirtualAddress: rd.rva(dirOff), Size: uint32(len(rd.data) - dirOff)}
}

func (b *PEBuilder) buildImports(rd *rvaBuffer) pe.DataDirectory {
	descOff := rd.alloc(20 * (len(b.imports) + 1))
	thunk := 4
	if b.Plus {
		thunk = 8
	}

	for i, imp := range b.imports {
		count := len(imp.Names) + len(imp.Ordinals)
		iltOff := rd.alloc(thunk * (count + 1))
		k := 0
		for _, name := range imp.Names {
			rd.pad(2)
			hintOff := rd.alloc(2)
			rd.str(name)
			rd.putThunk(iltOff+k*thunk, thunk, uint64(rd.rva(hintOff)))
			k++
		}
		for _, ord := range imp.Ordinals {
			flag := uint64(0x80000000)
			if b.Plus {
				flag = 1 << 63
			}
			rd.putThunk(iltOff+k*thunk, thunk, flag|uint64(ord))
			k++
		}
		libRVA := rd.str(imp.Library)

		d := descOff + 20*i
		rd.put32(d, rd.rva(iltOff))
		rd.put32(d+12, libRVA)
		rd.put32(d+16, rd.rva(iltOff))
	}

	return pe.DataDirectory{VirtualAddress: rd.rva(descOff), Size: uint32(20 * (len(b.imports) + 1))}
}

// buildVersionResource lays out root -> RT_VERSION -> ID 1 -> lang 0x409 -> blob.
func buildVersionResource(rd *rvaBuffer, blob []byte) pe.DataDirectory {
	const subdir = 0x80000000

	root := rd.alloc(16 + 8)
	typeDir := rd.alloc(16 + 8)
	nameDir := rd.alloc(16 + 8)
	entry := rd.alloc(16)
	rd.pad(4)
	blobOff := rd.alloc(len(blob))
	copy(rd.data[blobOff:], blob)

	rd.put16(root+14, 1)
	rd.put32(root+16, 16) // RT_VERSION
	rd.put32(root+20, subdir|uint32(typeDir))

	rd.put16(typeDir+14, 1)
	rd.put32(typeDir+16, 1)
	rd.put32(typeDir+20, subdir|uint32(nameDir))

	rd.put16(nameDir+14, 1)
	rd.put32(nameDir+16, 0x409)
	rd.put32(nameDir+20, uint32(entry))

	rd.put32(entry, rd.rva(blobOff))
	rd.put32(entry+4, uint32(len(blob)))

	return pe.DataDirectory{VirtualAddress: rd.rva(root), Size: uint32(len(rd.data))}
}

// versionInfoBlob encodes a VS_VERSIONINFO structure with a single
// StringFileInfo table ("040904b0") holding fields in sorted key order.
func versionInfoBlob(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var strs [][]byte
	for _, k := range keys {
		value := utf16z(fields[k])
		strs = append(strs, versionBlock(k, 1, value, uint16(len(value)/2)))
	}
	table := versionBlock("040904b0", 1, nil, 0, strs...)
	sfi := versionBlock("StringFileInfo", 1, nil, 0, table)

	fixed := make([]byte, 52)
	binary.LittleEndian.PutUint32(fixed[0:], 0xFEEF04BD)
	binary.LittleEndian.PutUint32(fixed[4:], 0x00010000)

	return versionBlock("VS_VERSION_INFO", 0, fixed, uint16(len(fixed)), sfi)
}

func versionBlock(key string, typ uint16, value []byte, valueLen uint16, children ...[]byte) []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[2:], valueLen)
	binary.LittleEndian.PutUint16(b[4:], typ)
	b = append(b, utf16z(key)...)
	b = pad4(b)
	b = append(b, value...)
	for _, c := range children {
		b = pad4(b)
		b = append(b, c...)
	}
	binary.LittleEndian.PutUint16(b[0:], uint16(len(b)))
	return b
}

func utf16z(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return append(out, 0, 0)
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// rvaBuffer accumulates section content whose first byte lives at base.
type rvaBuffer struct {
	base uint32
	data []byte
}

func (r *rvaBuffer) alloc(n int) int {
	off := len(r.data)
	r.data = append(r.data, make([]byte, n)...)
	return off
}

func (r *rvaBuffer) pad(align int) {
	for len(r.data)%align != 0 {
		r.data = append(r.data, 0)
	}
}

func (r *rvaBuffer) str(s string) uint32 {
	off := r.alloc(len(s) + 1)
	copy(r.data[off:], s)
	r.pad(2)
	return r.rva(off)
}

func (r *rvaBuffer) rva(off int) uint32 { return r.base + uint32(off) }

func (r *rvaBuffer) put16(off int, v uint16) { binary.LittleEndian.PutUint16(r.data[off:], v) }

func (r *rvaBuffer) put32(off int, v uint32) { binary.LittleEndian.PutUint32(r.data[off:], v) }

func (r *rvaBuffer) putThunk(off, size int, v uint64) {
	if size == 8 {
		binary.LittleEndian.PutUint64(r.data[off:], v)
		return
	}
	binary.LittleEndian.PutUint32(r.data[off:], uint32(v))
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func mustWrite(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}
