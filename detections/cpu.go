package detections

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HostFeatures reports the vector extensions available to the runtime's CPU provider.
func HostFeatures() map[string]bool {
	features := map[string]bool{}
	switch runtime.GOARCH {
	case "amd64", "386":
		features["avx512f"] = cpu.X86.HasAVX512F
		features["avx2"] = cpu.X86.HasAVX2
		features["sse41"] = cpu.X86.HasSSE41
		features["fma"] = cpu.X86.HasFMA
	case "arm64":
		features["asimd"] = cpu.ARM64.HasASIMD
		features["fphp"] = cpu.ARM64.HasFPHP
		features["sve"] = cpu.ARM64.HasSVE
	}
	return features
}
