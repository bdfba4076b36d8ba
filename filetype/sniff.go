package filetype

import "bytes"

type signature struct {
	prefix []byte
	ext    string
}

var (
	sigZip      = []byte{0x50, 0x4B, 0x03, 0x04}
	sigCompound = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

var signatures = []signature{
	{prefix: []byte{0x25, 0x50, 0x44, 0x46}, ext: "pdf"},
	{prefix: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, ext: "png"},
	{prefix: []byte{0xFF, 0xD8}, ext: "jpg"},
	{prefix: []byte("GIF87a"), ext: "gif"},
	{prefix: []byte("GIF89a"), ext: "gif"},
}

// Sniff classifies data by its leading bytes. declaredMIME only refines
// container formats: a ZIP that claims to be an OOXML document keeps that
// extension, as does a compound file claiming a legacy Office type.
func Sniff(data []byte, declaredMIME string) (string, bool) {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.ext, true
		}
	}

	declared := normalizeMIME(declaredMIME)
	switch {
	case bytes.HasPrefix(data, sigZip):
		switch declared {
		case mimeDOCX, mimeXLSX, mimePPTX:
			return mimeToExt[declared], true
		}
		return "zip", true
	case bytes.HasPrefix(data, sigCompound):
		switch declared {
		case mimeDOC, mimeXLS, mimePPT:
			return mimeToExt[declared], true
		}
		return "doc", true
	}
	return "", false
}
