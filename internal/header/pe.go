package header

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	peparser "github.com/saferwall/pe"
	pelog "github.com/saferwall/pe/log"
)

const highEntropy = 7.0

// PE extracts Headers from Portable Executable images.
type PE struct {
	// Now is used to flag timestamps in the future. Defaults to time.Now.
	Now func() time.Time
}

// NewPE returns a PE extractor using the wall clock.
func NewPE() *PE {
	return &PE{Now: time.Now}
}

// Extract reads path and parses it as a PE image.
func (p *PE) Extract(path string) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return p.parse(data)
}

// Parse reads a PE image of the given size from r.
func (p *PE) Parse(r io.ReaderAt, size int64) (*Header, error) {
	data := make([]byte, size)
	n, err := r.ReadAt(data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return p.parse(data)
}

func (p *PE) parse(data []byte) (*Header, error) {
	f, err := peparser.NewBytes(data, &peparser.Options{Logger: parserLogger{}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	h := &Header{CompileTime: int64(f.NtHeader.FileHeader.TimeDateStamp)}

	var entry uint32
	switch oh := f.NtHeader.OptionalHeader.(type) {
	case peparser.ImageOptionalHeader32:
		h.PEType = "PE32"
		h.Subsystem = int(oh.Subsystem)
		entry = oh.AddressOfEntryPoint
	case peparser.ImageOptionalHeader64:
		h.PEType = "PE32+"
		h.Subsystem = int(oh.Subsystem)
		entry = oh.AddressOfEntryPoint
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrFormat)
	}

	var a anomalies
	p.checkTimestamp(&a, f.NtHeader.FileHeader.TimeDateStamp)
	h.Sections = sections(&a, f.Sections, data)
	if len(f.Sections) == 0 {
		a.add("no sections")
	}
	if entry != 0 && !mapped(f.Sections, entry) {
		a.addf("entry point 0x%x outside of any section", entry)
	}

	h.Imports = imports(f.Imports)
	h.Exports = exports(f.Export)
	if len(f.Resources.Entries) > 0 {
		info, err := f.ParseVersionResources()
		if err != nil {
			a.addf("malformed version resource: %v", err)
		} else if len(info) > 0 {
			h.VersionInfo = info
		}
	}

	for _, msg := range f.Anomalies {
		a.add(msg)
	}
	h.Anomalies = a.list
	return h, nil
}

func (p *PE) checkTimestamp(a *anomalies, ts uint32) {
	if ts == 0 {
		a.add("compile timestamp is zero")
		return
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if int64(ts) > now().Unix() {
		a.addf("compile timestamp %s is in the future", time.Unix(int64(ts), 0).UTC().Format(time.RFC3339))
	}
}

func sectionName(s peparser.Section) string {
	name := s.Header.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func sections(a *anomalies, secs []peparser.Section, data []byte) []Section {
	out := make([]Section, 0, len(secs))
	names := make(map[string]bool)
	fileSize := int64(len(data))
	for _, s := range secs {
		hdr := s.Header
		name := sectionName(s)
		sec := Section{
			Name:        name,
			Size:        int64(hdr.SizeOfRawData),
			VirtualSize: int64(hdr.VirtualSize),
		}
		if names[name] {
			a.addf("duplicate section name %q", name)
		}
		names[name] = true

		start, end := int64(hdr.PointerToRawData), int64(hdr.PointerToRawData)+int64(hdr.SizeOfRawData)
		if end > fileSize {
			a.addf("section %q raw data extends beyond end of file", name)
		} else if hdr.SizeOfRawData == 0 && hdr.VirtualSize > 0 && hdr.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA == 0 {
			a.addf("section %q has no raw data but virtual size %d", name, hdr.VirtualSize)
		}

		if start < fileSize {
			sec.Entropy = Entropy(data[start:min(end, fileSize)])
		}
		if hdr.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0 && sec.Entropy > highEntropy {
			a.addf("code section %q has high entropy %.2f", name, sec.Entropy)
		}
		out = append(out, sec)
	}
	return out
}

// mapped reports whether rva falls inside any section.
func mapped(secs []peparser.Section, rva uint32) bool {
	for _, s := range secs {
		span := max(s.Header.VirtualSize, s.Header.SizeOfRawData)
		if rva >= s.Header.VirtualAddress && rva-s.Header.VirtualAddress < span {
			return true
		}
	}
	return false
}

func imports(libs []peparser.Import) []Import {
	var out []Import
	for _, lib := range libs {
		imp := Import{Library: lib.Name}
		for _, fn := range lib.Functions {
			if fn.ByOrdinal {
				imp.Functions = append(imp.Functions, Function{Ordinal: uint16(fn.Ordinal)})
				continue
			}
			imp.Functions = append(imp.Functions, Function{Name: fn.Name, Ordinal: fn.Hint})
		}
		out = append(out, imp)
	}
	return out
}

func exports(exp peparser.Export) *Export {
	var funcs []Function
	for _, fn := range exp.Functions {
		if fn.FunctionRVA == 0 {
			continue
		}
		funcs = append(funcs, Function{Name: fn.Name, Ordinal: uint16(fn.Ordinal)})
	}
	if len(funcs) == 0 && exp.Name == "" {
		return nil
	}
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Ordinal < funcs[j].Ordinal })
	return &Export{Library: exp.Name, Functions: funcs}
}

// anomalies collects messages in first-seen order without repeats.
type anomalies struct {
	list []string
	seen map[string]bool
}

func (a *anomalies) add(msg string) {
	if a.seen == nil {
		a.seen = make(map[string]bool)
	}
	if a.seen[msg] {
		return
	}
	a.seen[msg] = true
	a.list = append(a.list, msg)
}

func (a *anomalies) addf(format string, args ...any) {
	a.add(fmt.Sprintf(format, args...))
}

// parserLogger routes parser diagnostics to slog at debug level.
type parserLogger struct{}

func (parserLogger) Log(level pelog.Level, keyvals ...any) error {
	slog.Debug("pe parser", append([]any{"level", level}, keyvals...)...)
	return nil
}
