//go:build linux

package sherpa

import (
	"os"
	"strings"

	impl "github.com/k2-fsa/sherpa-onnx-go-linux"
)

// Whisper recognizer.

type OfflineRecognizer = impl.OfflineRecognizer
type OfflineRecognizerConfig = impl.OfflineRecognizerConfig
type OfflineStream = impl.OfflineStream
type OfflineRecognizerResult = impl.OfflineRecognizerResult

var NewOfflineRecognizer = impl.NewOfflineRecognizer
var DeleteOfflineRecognizer = impl.DeleteOfflineRecognizer
var NewOfflineStream = impl.NewOfflineStream
var DeleteOfflineStream = impl.DeleteOfflineStream

// Kokoro synthesizer.

type OfflineTts = impl.OfflineTts
type OfflineTtsConfig = impl.OfflineTtsConfig
type GeneratedAudio = impl.GeneratedAudio

var NewOfflineTts = impl.NewOfflineTts
var DeleteOfflineTts = impl.DeleteOfflineTts

// DefaultProvider returns "cuda" when an NVIDIA GPU looks present, "cpu"
// otherwise. The prebuilt linux package is CPU-only; CUDA needs a source
// build of sherpa-onnx.
func DefaultProvider() string {
	if HasNvidiaGPU() {
		return "cuda"
	}
	return "cpu"
}

// AvailableProviders lists the providers accepted on Linux.
func AvailableProviders() []string {
	return []string{"cpu", "cuda"}
}

var nvidiaIndicators = []string{
	"/usr/bin/nvidia-smi",
	"/usr/local/bin/nvidia-smi",
	"/opt/nvidia/bin/nvidia-smi",
	"/dev/nvidia0",
	// Jetson boards
	"/dev/nvhost-gpu",
	"/dev/nvhost-ctrl-gpu",
	"/dev/nvmap",
	"/etc/nv_tegra_release",
	"/sys/devices/gpu.0",
	"/sys/devices/17000000.ga10b",
	"/sys/devices/17000000.gv11b",
}

// HasNvidiaGPU checks for discrete NVIDIA GPUs and Jetson SoCs.
func HasNvidiaGPU() bool {
	for _, path := range nvidiaIndicators {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	data, err := os.ReadFile("/proc/device-tree/compatible")
	if err != nil {
		return false
	}
	compatible := string(data)
	return strings.Contains(compatible, "nvidia,tegra") || strings.Contains(compatible, "nvidia,jetson")
}
