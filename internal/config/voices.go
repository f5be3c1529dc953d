package config

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
)

// Voice is one Kokoro v1.0 speaker.
type Voice struct {
	Name       string
	SpeakerID  int
	EspeakCode string // espeak-ng language code
	Language   string // display name
}

// voiceGroups lists the Kokoro multi-lang v1.0 speakers in speaker ID order.
var voiceGroups = []struct {
	language string
	espeak   string
	names    []string
}{
	{"American English", "en-us", []string{
		"af_alloy", "af_aoede", "af_bella", "af_heart", "af_jessica", "af_kore", "af_nicole",
		"af_nova", "af_river", "af_sarah", "af_sky", "am_adam", "am_echo", "am_eric",
		"am_fenrir", "am_liam", "am_michael", "am_onyx", "am_puck", "am_santa",
	}},
	{"British English", "en-gb", []string{
		"bf_alice", "bf_emma", "bf_isabella", "bf_lily", "bm_daniel", "bm_fable", "bm_george", "bm_lewis",
	}},
	{"Spanish", "es", []string{"ef_dora", "em_alex"}},
	{"French", "fr-fr", []string{"ff_siwis"}},
	{"Hindi", "hi", []string{"hf_alpha", "hf_beta", "hm_omega", "hm_psi"}},
	{"Italian", "it", []string{"if_sara", "im_nicola"}},
	{"Japanese", "ja", []string{"jf_alpha", "jf_gongitsune", "jf_nezumi", "jf_tebukuro", "jm_kumo"}},
	{"Portuguese BR", "pt-br", []string{"pf_dora", "pm_alex", "pm_santa"}},
	{"Mandarin Chinese", "cmn", []string{
		"zf_xiaobei", "zf_xiaoni", "zf_xiaoxiao", "zf_xiaoyi", "zm_yunjian", "zm_yunxi", "zm_yunxia", "zm_yunyang",
	}},
}

// Voices indexes every speaker by name.
var Voices = func() map[string]Voice {
	m := make(map[string]Voice)
	id := 0
	for _, g := range voiceGroups {
		for _, name := range g.names {
			m[name] = Voice{Name: name, SpeakerID: id, EspeakCode: g.espeak, Language: g.language}
			id++
		}
	}
	return m
}()

// LookupVoice returns the voice with the given name.
func LookupVoice(name string) (Voice, bool) {
	v, ok := Voices[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Lexicon returns the lexicon files Kokoro needs for this voice under
// ttsDir. Languages without a lexicon return "" and rely on espeak-ng.
func (v Voice) Lexicon(ttsDir string) string {
	switch v.EspeakCode {
	case "en-us":
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	case "en-gb":
		return filepath.Join(ttsDir, "lexicon-gb-en.txt")
	case "cmn":
		return filepath.Join(ttsDir, "lexicon-us-en.txt") + "," + filepath.Join(ttsDir, "lexicon-zh.txt")
	default:
		return ""
	}
}

// Lang returns the espeak-ng code to pass to Kokoro, or "" for voices that
// are phonemized through a lexicon.
func (v Voice) Lang() string {
	switch v.EspeakCode {
	case "en-us", "en-gb", "cmn":
		return ""
	default:
		return v.EspeakCode
	}
}

// WriteVoices prints every voice grouped by language.
func WriteVoices(w io.Writer) {
	rule := strings.Repeat("─", 50)
	fmt.Fprintf(w, "Kokoro TTS v1.0: %d voices across %d languages\n", len(Voices), len(voiceGroups))
	for _, g := range voiceGroups {
		names := slices.Clone(g.names)
		slices.Sort(names)
		fmt.Fprintf(w, "\n── %s (%d voices) ──\n", g.language, len(names))
		fmt.Fprintf(w, "%-15s %-4s %s\n", "VOICE", "ID", "ESPEAK")
		fmt.Fprintln(w, rule)
		for _, name := range names {
			v := Voices[name]
			fmt.Fprintf(w, "%-15s %-4d %s\n", name, v.SpeakerID, v.EspeakCode)
		}
	}
	fmt.Fprintf(w, "\nDefault: %s\n", defaultVoice)
	fmt.Fprintln(w, "Usage: assistant local --tts-voice bf_emma")
}

// WriteVoiceInfo prints one voice.
func WriteVoiceInfo(w io.Writer, name string) error {
	v, ok := LookupVoice(name)
	if !ok {
		return fmt.Errorf("voice %q not found, run 'assistant voices' to list them", name)
	}
	fmt.Fprintf(w, "Voice:       %s\n", v.Name)
	fmt.Fprintf(w, "Speaker ID:  %d\n", v.SpeakerID)
	fmt.Fprintf(w, "Language:    %s\n", v.Language)
	fmt.Fprintf(w, "Espeak code: %s\n", v.EspeakCode)
	return nil
}
