//go:build !windows

package backend

// Has reports whether name can be requested on this platform. Whether the
// provider actually attaches depends on the loaded onnxruntime build.
func Has(name string) bool {
	switch name {
	case CPU, CUDA:
		return true
	default:
		return false
	}
}
