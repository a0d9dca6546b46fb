package catalog

import (
	"path"
	"strings"
)

// Entry extensions that are refused inside archives and documents.
var executableExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".scr": {}, ".com": {}, ".pif": {}, ".cpl": {},
	".msi": {}, ".msp": {}, ".bat": {}, ".cmd": {}, ".ps1": {}, ".psm1": {},
	".vbs": {}, ".vbe": {}, ".js": {}, ".jse": {}, ".wsf": {}, ".wsh": {},
	".hta": {}, ".jar": {}, ".lnk": {}, ".reg": {}, ".sh": {}, ".elf": {},
	".app": {}, ".iso": {}, ".img": {}, ".vhd": {}, ".xll": {}, ".xlam": {},
	".xlsm": {}, ".docm": {}, ".dotm": {}, ".pptm": {}, ".chm": {},
}

// IsExecutableName reports whether an archive entry name carries an
// executable or script extension.
func IsExecutableName(name string) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	_, ok := executableExtensions[ext]
	return ok
}

// IsMacroPart reports whether an OOXML part holds VBA or ActiveX code.
func IsMacroPart(name string) bool {
	lower := strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	base := path.Base(lower)
	switch {
	case base == "vbaproject.bin", base == "vbadata.xml":
		return true
	case strings.Contains(lower, "/activex/") && strings.HasSuffix(base, ".bin"):
		return true
	}
	return false
}

// IsUnsafePath reports entry names that escape the extraction root.
func IsUnsafePath(name string) bool {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") {
		return true
	}
	if len(n) >= 2 && n[1] == ':' {
		return true
	}
	for _, part := range strings.Split(n, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
