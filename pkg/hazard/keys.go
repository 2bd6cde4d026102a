package hazard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
)

// RSI2Str encodes a (realization, site, IMT) triple as "rlz-XXXX/sid-YYYY/IMT".
func RSI2Str(rlzi, sid int, imt string) string {
	return fmt.Sprintf("rlz-%04d/sid-%04d/%s", rlzi, sid, imt)
}

// Str2RSI decodes a key produced by RSI2Str.
func Str2RSI(key string) (int, int, string, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "rlz-") || !strings.HasPrefix(parts[1], "sid-") || parts[2] == "" {
		return 0, 0, "", fmt.Errorf("%w: %q", apperrors.ErrInvalidKey, key)
	}
	rlzi, err := strconv.Atoi(parts[0][4:])
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %q: %v", apperrors.ErrInvalidKey, key, err)
	}
	sid, err := strconv.Atoi(parts[1][4:])
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %q: %v", apperrors.ErrInvalidKey, key, err)
	}
	return rlzi, sid, parts[2], nil
}
