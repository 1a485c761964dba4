package types

import (
	"strings"
)

func unquoteYAML(b []byte) string {
	return strings.Trim(string(b), " \"'\n\r\t")
}
