package deb

import (
	"bytes"
)

// contentInfo summarizes the first bytes and line endings of a file.
type contentInfo struct {
	shell bool
	bom   bool
	cr    int
	lf    int
}

var (
	shebangUTF8    = []byte{'#', '!'}
	shebangUTF16BE = []byte{0x00, '#', 0x00, '!'}
	shebangUTF16LE = []byte{'#', 0x00, '!', 0x00}

	byteOrderMarks = [][]byte{
		{0xEF, 0xBB, 0xBF},
		{0xFF, 0xFE},
		{0xFE, 0xFF},
	}
)

// sniff looks for a shebang within the first 10 bytes and a byte order mark
// at offset 0, and counts the line terminators of content.
func sniff(content []byte) contentInfo {
	head := content
	if len(head) > 10 {
		head = head[:10]
	}
	info := contentInfo{
		cr: bytes.Count(content, []byte{'\r'}),
		lf: bytes.Count(content, []byte{'\n'}),
	}
	for _, sig := range [][]byte{shebangUTF8, shebangUTF16BE, shebangUTF16LE} {
		if bytes.Contains(head, sig) {
			info.shell = true
			break
		}
	}
	for _, bom := range byteOrderMarks {
		if bytes.HasPrefix(content, bom) {
			info.bom = true
			break
		}
	}
	return info
}

func (i contentInfo) hasUnixLineEndings() bool {
	return i.cr == 0
}

// toUnixLineEndings rewrites CRLF and lone CR terminators to LF.
func toUnixLineEndings(content []byte) []byte {
	out := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
}
