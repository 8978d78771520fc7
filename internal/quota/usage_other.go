//go:build !unix

package quota

// filesystemAvailable has no implementation on this platform; usage is
// treated as unknown and writes proceed ungated.
func filesystemAvailable(dir string) (int64, bool) {
	return 0, false
}
