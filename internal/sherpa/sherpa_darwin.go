//go:build darwin

package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

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

// DefaultProvider returns "coreml", which runs on the Apple Neural Engine.
func DefaultProvider() string {
	return "coreml"
}

// AvailableProviders lists the providers accepted on macOS.
func AvailableProviders() []string {
	return []string{"cpu", "coreml"}
}

// HasNvidiaGPU is always false on macOS.
func HasNvidiaGPU() bool {
	return false
}
