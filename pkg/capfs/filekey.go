package capfs

import "fmt"

// FileKey globally identifies a CAPFS file within a cluster: the manager that
// owns its metadata, the logical filesystem (export) it lives under, and its
// inode on that filesystem (spec.md §3).
type FileKey struct {
	ManagerID int64
	FsIno     int64
	FileIno   int64
}

// String renders the key as "manager/fsino/fileino".
func (k FileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.ManagerID, k.FsIno, k.FileIno)
}

// IsZero reports whether k is the unset FileKey.
func (k FileKey) IsZero() bool {
	return k == FileKey{}
}
