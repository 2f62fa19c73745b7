package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestFileTypeForMIME(t *testing.T) {
	cases := []struct {
		mime string
		want string
	}{
		{mime: "application/pdf", want: "pdf"},
		{mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", want: "docx"},
		{mime: "text/plain", want: "txt"},
		{mime: " TEXT/PLAIN ", want: "txt"},
		{mime: "image/png", want: ""},
		{mime: "text/html", want: ""},
		{mime: "", want: ""},
	}
	for _, tc := range cases {
		if got := FileTypeForMIME(tc.mime); got != tc.want {
			t.Fatalf("FileTypeForMIME(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestTextPlain(t *testing.T) {
	data := []byte("First line.\r\nSecond   line   with   runs.\r\n\r\n\r\nNext paragraph.")
	got, err := Text("notes.txt", "text/plain", data)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "First line.\nSecond line with runs.\n\nNext paragraph."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTextEmptyFile(t *testing.T) {
	if _, err := Text("empty.txt", "text/plain", nil); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func docxBytes(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestTextDOCX(t *testing.T) {
	xmlDoc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello from the first paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>And the second</w:t></w:r><w:r><w:t> one.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	data := docxBytes(t, xmlDoc)

	got, err := Text("report.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", data)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(got, "Hello from the first paragraph.") {
		t.Fatalf("missing first paragraph in %q", got)
	}
	if !strings.Contains(got, "And the second one.") {
		t.Fatalf("run texts not joined in %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Fatalf("paragraph break missing in %q", got)
	}
}

func TestTextZipNotDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("random.txt")
	_, _ = w.Write([]byte("not a docx"))
	_ = zw.Close()

	if _, err := Text("fake.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", buf.Bytes()); err == nil {
		t.Fatal("expected error for zip without word/ entries")
	}
}

func TestTextClaimsPDFButIsNot(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x00, 0xff}
	_, err := Text("doc.pdf", "application/pdf", data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "claims pdf") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTextUnsupportedBinary(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0x0d, 0x0a, 0x1a}
	if _, err := Text("image.png", "image/png", data); err == nil {
		t.Fatal("expected error for unsupported binary")
	}
}

func TestSniffHelpers(t *testing.T) {
	if !isPDF([]byte("%PDF-1.7 something")) {
		t.Fatal("isPDF should match %PDF- header")
	}
	if isPDF([]byte("PDF-1.7")) {
		t.Fatal("isPDF should require leading %")
	}
	if !isZip([]byte{'P', 'K', 3, 4, 0}) {
		t.Fatal("isZip should match PK header")
	}
	if !isProbablyText([]byte("plain utf-8 text with عربى characters")) {
		t.Fatal("isProbablyText should accept utf-8 text")
	}
	if isProbablyText([]byte{0x00, 0x01, 'a', 'b'}) {
		t.Fatal("isProbablyText should reject NUL bytes")
	}
}
