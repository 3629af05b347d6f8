package tileindex

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// EncodeLocation builds the location token "<path>,<layer>" stored in the catalog.
func EncodeLocation(path string, layer int) string {
	return path + "," + strconv.Itoa(layer)
}

// DecodeLocation splits a location token on its last comma. Paths may contain
// commas, layer indexes never do.
func DecodeLocation(token string) (string, int, error) {
	i := strings.LastIndexByte(token, ',')
	if i < 0 {
		return "", 0, errors.Wrapf(ErrMalformedToken, "%q has no layer suffix", token)
	}

	layer, err := strconv.Atoi(strings.TrimSpace(token[i+1:]))
	if err != nil || layer < 0 {
		return "", 0, errors.Wrapf(ErrMalformedToken, "%q has an invalid layer index", token)
	}

	return token[:i], layer, nil
}

// tokenSet is the dedup membership structure. Tokens compare case-insensitively.
type tokenSet map[string]struct{}

func (s tokenSet) add(token string) {
	s[strings.ToLower(token)] = struct{}{}
}

func (s tokenSet) contains(token string) bool {
	_, ok := s[strings.ToLower(token)]
	return ok
}
