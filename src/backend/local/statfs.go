package local

import "golang.org/x/sys/unix"

// fsCapacity queries the filesystem holding path for its total and
// available byte counts.
func fsCapacity(path string) (total, available uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
