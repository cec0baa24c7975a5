// Package onnx binds decoder models to ONNX Runtime through
// github.com/yalue/onnxruntime_go.
package onnx

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the location of the onnxruntime shared library.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// DefaultLibraryName returns the platform file name of the runtime library,
// resolved by the dynamic loader's search path.
func DefaultLibraryName(goos string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ResolveLibraryPath picks the first non-empty of the flag value, the
// config value and the environment, falling back to the platform name.
func ResolveLibraryPath(flagValue, configValue string, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, v := range []string{flagValue, configValue, getenv(LibraryPathEnv)} {
		if v != "" {
			return v
		}
	}
	return DefaultLibraryName(runtime.GOOS)
}

// InitEnvironment loads the shared library at libPath and creates the
// process-wide runtime environment. It is a no-op when already initialized.
func InitEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime from %s: %w", libPath, err)
	}
	return nil
}

// DestroyEnvironment releases the runtime environment.
func DestroyEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroy onnxruntime environment: %w", err)
	}
	return nil
}

// RuntimeVersion reports the version string of the loaded library.
func RuntimeVersion() string {
	if !ort.IsInitialized() {
		return ""
	}
	return ort.GetVersion()
}
