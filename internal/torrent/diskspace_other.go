//go:build !unix

package torrent

func freeSpace(path string) (int64, error) {
	return 0, ErrFreeSpaceUnsupported
}
