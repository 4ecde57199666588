// Package attachments decodes data-URI uploads from public forms and stores
// them in object storage.
package attachments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedDataURI is returned for anything that is not a base64 data URI.
var ErrMalformedDataURI = errors.New("malformed data uri")

var dataURIPattern = regexp.MustCompile(`^data:([A-Za-z0-9+/.\-]+);base64,(.+)$`)

// DataURI is a decoded attachment.
type DataURI struct {
	ContentType string
	Ext         string
	Data        []byte
}

// ParseDataURI decodes a `data:<type>;base64,<payload>` string.
func ParseDataURI(s string) (DataURI, error) {
	matches := dataURIPattern.FindStringSubmatch(s)
	if matches == nil {
		return DataURI{}, ErrMalformedDataURI
	}

	data, err := base64.StdEncoding.DecodeString(matches[2])
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}
	if len(data) == 0 {
		return DataURI{}, ErrMalformedDataURI
	}

	return DataURI{
		ContentType: matches[1],
		Ext:         extension(matches[1]),
		Data:        data,
	}, nil
}

// extension takes the subtype up to the first "+", so image/svg+xml is svg.
func extension(contentType string) string {
	_, subtype, _ := strings.Cut(contentType, "/")
	subtype, _, _ = strings.Cut(subtype, "+")
	if subtype == "" {
		return "jpg"
	}
	return strings.ToLower(subtype)
}

// ObjectKey builds a collision-free storage key: <prefix>/<unix-ms>_<index>_<uuid>.<ext>
func ObjectKey(prefix string, index int, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%d_%s.%s", strings.Trim(prefix, "/"), now.UnixMilli(), index, uuid.NewString(), ext)
}
