// Ada - a local voice assistant built on sherpa-onnx
//
// The assistant listens for turns with an energy-based turn detector,
// transcribes them with Whisper, answers through a local LLM (Ollama or any
// OpenAI-compatible server) and speaks with Kokoro. It can run against the
// local microphone and speaker, or host a WebRTC room that participants join
// from a browser.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
