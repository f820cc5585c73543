package detect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// mimeLabels maps detected MIME types to file(1) style labels.
var mimeLabels = []struct {
	mime  string
	label string
}{
	{"application/pdf", "PDF document"},
	{"application/zip", "Zip archive data"},
	{"application/gzip", "gzip compressed data"},
	{"application/x-bzip2", "bzip2 compressed data"},
	{"application/x-xz", "XZ compressed data"},
	{"application/x-7z-compressed", "7-zip archive data"},
	{"application/x-tar", "POSIX tar archive"},
	{"application/x-ole-storage", "Composite Document File V2 Document"},
	{"application/vnd.sqlite3", "SQLite 3.x database"},
	{"application/x-mach-binary", "Mach-O binary"},
	{"image/png", "PNG image data"},
	{"image/jpeg", "JPEG image data"},
	{"image/gif", "GIF image data"},
}

func builtin(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("MZ")):
		return describeMZ(head)
	case bytes.HasPrefix(head, []byte("\x7fELF")):
		return describeELF(head)
	case bytes.HasPrefix(head, []byte("#!")):
		return describeScript(head)
	}
	return describeMIME(mimetype.Detect(head), head)
}

// describeMIME labels head by the closest detected type that has a label.
// Text formats fall back to their character set; other unlabeled types are
// reported by MIME type.
func describeMIME(detected *mimetype.MIME, head []byte) string {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return textKind(head)
		}
		if m.Is("application/octet-stream") {
			break
		}
		for _, l := range mimeLabels {
			if m.Is(l.mime) {
				return l.label
			}
		}
	}
	if detected.Is("application/octet-stream") {
		return "data"
	}
	return mimeBase(detected.String())
}

func mimeBase(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.TrimSpace(base)
}

var peMachines = map[uint16]string{
	0x014c: "Intel 80386",
	0x0166: "MIPS R4000",
	0x01c0: "ARM",
	0x01c4: "ARMv7 Thumb",
	0x0200: "Intel Itanium",
	0x8664: "x86-64",
	0xaa64: "Aarch64",
}

var peSubsystems = map[uint16]string{
	1:  "(native)",
	2:  "(GUI)",
	3:  "(console)",
	9:  "(Windows CE GUI)",
	10: "(EFI application)",
	11: "(EFI boot service driver)",
	12: "(EFI runtime driver)",
}

const (
	peMagic32     = 0x10b
	peMagic64     = 0x20b
	peDLL         = 0x2000
	peSubsystemAt = 68
)

// describeMZ labels DOS and PE images the way file(1) does, e.g.
// "PE32 executable (DLL) (GUI) Intel 80386, for MS Windows".
func describeMZ(head []byte) string {
	const dos = "MS-DOS executable"
	if len(head) < 0x40 {
		return dos
	}
	off := int(binary.LittleEndian.Uint32(head[0x3c:]))
	if off <= 0 || off+24 > len(head) || !bytes.Equal(head[off:off+4], []byte("PE\x00\x00")) {
		return dos
	}

	coff := head[off+4:]
	machine := binary.LittleEndian.Uint16(coff[0:])
	characteristics := binary.LittleEndian.Uint16(coff[18:])

	opt := off + 24
	if opt+2 > len(head) {
		return dos
	}

	var b strings.Builder
	switch binary.LittleEndian.Uint16(head[opt:]) {
	case peMagic32:
		b.WriteString("PE32 executable")
	case peMagic64:
		b.WriteString("PE32+ executable")
	default:
		return "PE Unknown PE signature"
	}

	if characteristics&peDLL != 0 {
		b.WriteString(" (DLL)")
	}
	if opt+peSubsystemAt+2 <= len(head) {
		sub := binary.LittleEndian.Uint16(head[opt+peSubsystemAt:])
		if name, ok := peSubsystems[sub]; ok {
			b.WriteString(" " + name)
		} else {
			fmt.Fprintf(&b, " (Unknown subsystem 0x%x)", sub)
		}
	}
	if name, ok := peMachines[machine]; ok {
		b.WriteString(" " + name)
	} else {
		fmt.Fprintf(&b, " Unknown processor type 0x%x", machine)
	}
	b.WriteString(", for MS Windows")
	return b.String()
}

var elfTypes = map[uint16]string{
	1: "relocatable",
	2: "executable",
	3: "shared object",
	4: "core file",
}

var elfMachines = map[uint16]string{
	3:   "Intel 80386",
	8:   "MIPS",
	20:  "PowerPC",
	40:  "ARM",
	62:  "x86-64",
	183: "ARM aarch64",
	243: "UCB RISC-V",
}

// describeELF produces labels such as "ELF 64-bit LSB executable, x86-64".
func describeELF(head []byte) string {
	if len(head) < 20 {
		return "ELF"
	}
	var b strings.Builder
	b.WriteString("ELF")
	switch head[4] {
	case 1:
		b.WriteString(" 32-bit")
	case 2:
		b.WriteString(" 64-bit")
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch head[5] {
	case 1:
		b.WriteString(" LSB")
	case 2:
		b.WriteString(" MSB")
		order = binary.BigEndian
	}

	if t, ok := elfTypes[order.Uint16(head[16:])]; ok {
		b.WriteString(" " + t)
	}
	if m, ok := elfMachines[order.Uint16(head[18:])]; ok {
		b.WriteString(", " + m)
	}
	return b.String()
}

// describeScript labels "#!" files by interpreter, e.g.
// "a /bin/sh script, ASCII text executable".
func describeScript(head []byte) string {
	line := head[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "script, ASCII text executable"
	}
	interp := fields[0]
	if strings.HasSuffix(interp, "/env") && len(fields) > 1 {
		interp = "/usr/bin/env " + fields[1]
	}
	return fmt.Sprintf("a %s script, %s executable", interp, textKind(head))
}

func textKind(head []byte) string {
	for _, c := range head {
		if c >= 0x80 {
			return "UTF-8 Unicode text"
		}
	}
	return "ASCII text"
}
