package archive

import (
	"bytes"
	"fmt"
	"io"
)

// vbaStorage is the UTF-16LE directory entry name of the VBA project in
// legacy compound documents. Word keeps it under Macros/, Excel under
// _VBA_PROJECT_CUR/.
var vbaStorage = utf16le("_VBA_PROJECT")

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out
}

// HasVBAProject reports whether a legacy .doc or .xls compound document
// carries macro code.
func HasVBAProject(r io.Reader) (bool, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("read compound document: %w", err)
	}
	return bytes.Contains(body, vbaStorage), nil
}
