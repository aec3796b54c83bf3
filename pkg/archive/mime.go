package archive

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// InputMIME returns the content type recorded for an upload: the client's hint when
// it names a concrete type, otherwise the type sniffed from the bytes.
func InputMIME(hint string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(hint); err == nil && mediaType != GenericMIME {
		return strings.ToLower(mediaType)
	}

	detected := mimetype.Detect(data).String()
	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		return mediaType
	}

	return GenericMIME
}
