package header

import (
	"bytes"
	"debug/pe"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metafs/internal/testutil"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func parse(t *testing.T, img []byte) *Header {
	t.Helper()
	p := &PE{Now: fixedNow}
	h, err := p.Parse(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	return h
}

// structural matches the irregularities this package reports itself, as
// opposed to those passed through from the parser.
var structural = regexp.MustCompile(`^(compile timestamp|entry point|no sections|duplicate section|section "|code section|malformed)`)

func TestPE_FullImage(t *testing.T) {
	img := testutil.NewPEBuilder().
		WithImport("KERNEL32.dll", []string{"ExitProcess", "GetLastError"}, 17).
		WithExports("sample.dll", 1, "Alpha", "").
		WithVersionInfo(map[string]string{
			"CompanyName": "Acme",
			"ProductName": "Sample Tool",
		}).
		Bytes()

	h := parse(t, img)

	assert.Equal(t, "PE32", h.PEType)
	assert.Equal(t, pe.IMAGE_SUBSYSTEM_WINDOWS_CUI, h.Subsystem)
	assert.Equal(t, int64(0x5F5E1000), h.CompileTime)

	names := make([]string, 0, len(h.Sections))
	for _, s := range h.Sections {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{".text", ".rdata", ".rsrc"}, names)
	assert.Equal(t, int64(0x200), h.Sections[0].Size)
	assert.Equal(t, int64(0x40), h.Sections[0].VirtualSize)
	assert.Greater(t, h.Sections[0].Entropy, 0.0)

	assert.Equal(t, []Import{{
		Library: "KERNEL32.dll",
		Functions: []Function{
			{Name: "ExitProcess"},
			{Name: "GetLastError"},
			{Ordinal: 17},
		},
	}}, h.Imports)

	require.NotNil(t, h.Exports)
	assert.Equal(t, "sample.dll", h.Exports.Library)
	assert.Equal(t, []Function{{Name: "Alpha", Ordinal: 1}, {Ordinal: 2}}, h.Exports.Functions)

	assert.Equal(t, map[string]string{
		"CompanyName": "Acme",
		"ProductName": "Sample Tool",
	}, h.VersionInfo)

	for _, msg := range h.Anomalies {
		assert.NotRegexp(t, structural, msg)
	}
}

func TestPE_PlusDLLImportsByOrdinal(t *testing.T) {
	b := testutil.NewPEBuilder().
		WithImport("WS2_32.dll", nil, 3, 115).
		WithImport("ntdll.dll", []string{"RtlInitUnicodeString"})
	b.Machine = pe.IMAGE_FILE_MACHINE_AMD64
	b.Plus = true
	b.DLL = true

	h := parse(t, b.Bytes())

	assert.Equal(t, "PE32+", h.PEType)
	require.Len(t, h.Imports, 2)
	assert.Equal(t, "WS2_32.dll", h.Imports[0].Library)
	assert.Equal(t, []Function{{Ordinal: 3}, {Ordinal: 115}}, h.Imports[0].Functions)
	assert.Equal(t, "RtlInitUnicodeString", h.Imports[1].Functions[0].Name)
	assert.Nil(t, h.Exports)
	assert.Nil(t, h.VersionInfo)
}

func TestPE_UnnamedExportOrdinals(t *testing.T) {
	h := parse(t, testutil.NewPEBuilder().WithExports("ord.dll", 1, "", "").Bytes())

	require.NotNil(t, h.Exports)
	require.Len(t, h.Exports.Functions, 2)
	assert.Equal(t, "0x0001", h.Exports.Functions[0].DisplayName())
	assert.Equal(t, "0x0002", h.Exports.Functions[1].DisplayName())
}

func TestPE_Anomalies(t *testing.T) {
	code := make([]byte, 256*16)
	for i := range code {
		code[i] = byte(i)
	}

	b := testutil.NewPEBuilder().
		WithSection(testutil.PESection{Name: ".text", Data: []byte{1, 2, 3}}).
		WithSection(testutil.PESection{Name: ".pad", VirtualSize: 0x100})
	b.TimeDateStamp = 0
	b.EntryPoint = 0x90000
	b.Code = code

	h := parse(t, b.Bytes())

	assert.Contains(t, h.Anomalies, "compile timestamp is zero")
	assert.Contains(t, h.Anomalies, "entry point 0x90000 outside of any section")
	assert.Contains(t, h.Anomalies, `duplicate section name ".text"`)
	assert.Contains(t, h.Anomalies, `section ".pad" has no raw data but virtual size 256`)
	assert.Contains(t, h.Anomalies, `code section ".text" has high entropy 8.00`)
}

func TestPE_FutureTimestamp(t *testing.T) {
	b := testutil.NewPEBuilder()
	b.TimeDateStamp = uint32(fixedNow().Add(24 * time.Hour).Unix())

	h := parse(t, b.Bytes())
	assert.Contains(t, h.Anomalies, "compile timestamp 2026-01-02T00:00:00Z is in the future")
}

func TestPE_TruncatedSection(t *testing.T) {
	img := testutil.NewPEBuilder().
		WithVersionInfo(map[string]string{"ProductName": "x"}).
		Bytes()
	truncated := img[:len(img)-0x100]

	h := parse(t, truncated)
	assert.Contains(t, h.Anomalies, `section ".rsrc" raw data extends beyond end of file`)
	require.NotEmpty(t, h.Sections)
	assert.Equal(t, ".rsrc", h.Sections[len(h.Sections)-1].Name)
}

func TestPE_ParseMatchesExtract(t *testing.T) {
	b := testutil.NewPEBuilder().WithImport("KERNEL32.dll", []string{"ExitProcess"})
	path := b.WriteFile(t, filepath.Join(t.TempDir(), "tool.exe"))

	p := &PE{Now: fixedNow}
	fromFile, err := p.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, parse(t, b.Bytes()), fromFile)
}

func TestPE_ShortReader(t *testing.T) {
	img := testutil.NewPEBuilder().Bytes()
	_, err := NewPE().Parse(bytes.NewReader(img), int64(len(img))+16)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFormat))
}

func TestPE_NotAnImage(t *testing.T) {
	p := NewPE()
	data := []byte("definitely not a portable executable")
	_, err := p.Parse(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFormat))
}

func TestPE_Extract(t *testing.T) {
	path := testutil.NewPEBuilder().
		WithExports("file.dll", 10, "Run").
		WriteFile(t, filepath.Join(t.TempDir(), "file.dll"))

	h, err := NewPE().Extract(path)
	require.NoError(t, err)
	require.NotNil(t, h.Exports)
	assert.Equal(t, []Function{{Name: "Run", Ordinal: 10}}, h.Exports.Functions)
}

func TestPE_ExtractMissing(t *testing.T) {
	_, err := NewPE().Extract(filepath.Join(t.TempDir(), "gone.exe"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, errors.Is(err, ErrFormat))
}
