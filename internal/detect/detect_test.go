package detect

import (
	"debug/pe"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metafs/internal/testutil"
)

func TestDetectBytes_Builtin(t *testing.T) {
	elf := make([]byte, 64)
	copy(elf, "\x7fELF\x02\x01\x01")
	elf[16] = 2  // ET_EXEC
	elf[18] = 62 // EM_X86_64

	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"empty", nil, "empty"},
		{"pdf", []byte("%PDF-1.7\n"), "PDF document"},
		{"zip", []byte("PK\x03\x04\x14\x00"), "Zip archive data"},
		{"gzip", []byte("\x1f\x8b\x08\x00"), "gzip compressed data"},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00"), "PNG image data"},
		{"gif", []byte("GIF89a\x01\x00"), "GIF image data"},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "JPEG image data"},
		{"sqlite", []byte("SQLite format 3\x00\x10\x00"), "SQLite 3.x database"},
		{"json", []byte(`{"name": "metafs"}`), "ASCII text"},
		{"unlabeled", []byte("\x00asm\x01\x00\x00\x00"), "application/wasm"},
		{"elf", elf, "ELF 64-bit LSB executable, x86-64"},
		{"ascii", []byte("hello world\n"), "ASCII text"},
		{"utf8", []byte("grüße\n"), "UTF-8 Unicode text"},
		{"script", []byte("#!/bin/sh\necho hi\n"), "a /bin/sh script, ASCII text executable"},
		{"env script", []byte("#!/usr/bin/env python3\n"), "a /usr/bin/env python3 script, ASCII text executable"},
		{"binary", []byte{0x00, 0x01, 0x02, 0xff}, "data"},
		{"dos", append([]byte("MZ"), make([]byte, 10)...), "MS-DOS executable"},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.DetectBytes(tt.head))
		})
	}
}

func TestDetectBytes_PE(t *testing.T) {
	m := New()

	exe := testutil.NewPEBuilder()
	assert.Equal(t, "PE32 executable (console) Intel 80386, for MS Windows", m.DetectBytes(exe.Bytes()))

	gui := testutil.NewPEBuilder()
	gui.Subsystem = pe.IMAGE_SUBSYSTEM_WINDOWS_GUI
	assert.Equal(t, "PE32 executable (GUI) Intel 80386, for MS Windows", m.DetectBytes(gui.Bytes()))

	dll := testutil.NewPEBuilder()
	dll.Machine = pe.IMAGE_FILE_MACHINE_AMD64
	dll.Plus = true
	dll.DLL = true
	dll.Subsystem = pe.IMAGE_SUBSYSTEM_WINDOWS_GUI
	assert.Equal(t, "PE32+ executable (DLL) (GUI) x86-64, for MS Windows", m.DetectBytes(dll.Bytes()))
}

func TestIsExecutable(t *testing.T) {
	assert.True(t, IsExecutable("PE32 executable (console) Intel 80386, for MS Windows"))
	assert.True(t, IsExecutable("PE32+ executable (DLL) (GUI) x86-64, for MS Windows"))
	assert.False(t, IsExecutable("MS-DOS executable"))
	assert.False(t, IsExecutable(Unknown))
}

func TestDetect_File(t *testing.T) {
	root := t.TempDir()
	path := testutil.NewPEBuilder().WriteFile(t, filepath.Join(root, "app.exe"))

	label, err := New().Detect(path)
	require.NoError(t, err)
	assert.True(t, IsExecutable(label))
}

func TestDetect_Missing(t *testing.T) {
	_, err := New().Detect(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDetect_CustomRuleWins(t *testing.T) {
	rule, err := NewRule("Acme firmware image", 0, "", "%PDF")
	require.NoError(t, err)

	assert.Equal(t, "Acme firmware image", New(rule).DetectBytes([]byte("%PDF-1.4")))
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(string) (string, error) {
		return "", errors.New("magic database missing")
	})
	_, err := d.Detect("/x")
	assert.EqualError(t, err, "magic database missing")
}
