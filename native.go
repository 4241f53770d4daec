//go:build darwin || linux

package vidstream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libraryFile returns the platform file name of a shared library.
func libraryFile(base string) string {
	if runtime.GOOS == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

// libraryPaths lists the places a native library is looked up, highest
// priority first. envFile names a variable holding the library file,
// envDir one holding its directory.
func libraryPaths(libName, envFile, envDir string) []string {
	var paths []string

	if envFile != "" {
		if p := os.Getenv(envFile); p != "" {
			paths = append(paths, p)
		}
	}
	if p := os.Getenv(envDir); p != "" {
		paths = append(paths, filepath.Join(p, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}

	for _, dir := range []string{"build", "build/ffi", "../build", "../build/ffi", "../../build", "../../build/ffi"} {
		paths = append(paths, filepath.Join(dir, libName))
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/opt/homebrew/lib", libName),
		)
	case "linux":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/usr/lib", libName),
		)
	}
	return paths
}

// openLibrary loads the first library found in paths.
func openLibrary(libName string, paths []string) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: load %s: %v", ErrResource, libName, lastErr)
	}
	return 0, fmt.Errorf("%w: %s not found", ErrResource, libName)
}

// registerSymbols binds Go function variables to library symbols. purego
// panics on a missing symbol; the panic is turned into an error.
func registerSymbols(handle uintptr, syms map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrResource, r)
		}
	}()
	for name, fptr := range syms {
		purego.RegisterLibFunc(fptr, handle, name)
	}
	return nil
}

// goStringFromPtr copies a NUL terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	n := 0
	for n < 1024 && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// findModuleRoot walks up from the working directory to the directory
// holding go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

var errNativeClosed = errors.New("native instance closed")
