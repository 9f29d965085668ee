package main

import (
	"embed"
	"fmt"
	"os"
	"runtime"
)

//go:embed static/index.html
var staticFiles embed.FS

func indexPage() ([]byte, error) {
	return staticFiles.ReadFile("static/index.html")
}

// defaultLibraryName is the ONNX Runtime shared library looked up on the loader path when none is configured.
func defaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveLibrary checks a configured library path exists, or falls back to the platform name.
func resolveLibrary(path string) (string, error) {
	if path == "" {
		return defaultLibraryName(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("onnxruntime library not found: %s", path)
	}
	return path, nil
}
