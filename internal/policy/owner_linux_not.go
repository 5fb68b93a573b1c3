//go:build !linux

package policy

import (
	"io/fs"
)

// OwnerUID is Linux-only; elsewhere ownership cannot be verified and every
// ownership-bound check must fail closed.
func OwnerUID(fi fs.FileInfo) (uint32, bool) {
	return 0, false
}
