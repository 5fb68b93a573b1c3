package policy

import (
	"io/fs"
	"syscall"
)

// OwnerUID extracts the owning uid from a stat result.
func OwnerUID(fi fs.FileInfo) (uint32, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Uid, true
}
