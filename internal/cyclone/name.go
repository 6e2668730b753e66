package cyclone

import (
	"strings"

	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

const (
	depressionPrefix = "tropical depression "
	unknownName      = "unknown cyclone"
)

// ResolveName picks the display name for a cyclone: localized name, then
// international name, then the depression number. It never returns "".
func ResolveName(id models.CycloneIdentity) string {
	if s := strings.TrimSpace(id.LocalName); s != "" {
		return s
	}
	if s := strings.TrimSpace(id.InternationalName); s != "" {
		return s
	}
	if s := strings.TrimSpace(id.DepressionID); s != "" {
		return depressionPrefix + s
	}
	return unknownName
}
