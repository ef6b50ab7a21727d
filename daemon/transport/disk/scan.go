package disk

import "os"

// Candidates lists /dev/<name> block device paths for every entry under
// /sys/block, the guest-side dump_disk discovery set: each is tried with
// Read in turn until one reports the metrics disk signature.
func Candidates() ([]string, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, "/dev/"+e.Name())
	}
	return paths, nil
}
