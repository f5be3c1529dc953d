// Package dictation intercepts transcripts to drive dictation mode: voice
// commands that start, save or cancel a dictation, and the accumulator that
// collects everything said in between.
package dictation

import "strings"

// Kind classifies what a transcript asks for.
type Kind int

const (
	// Converse forwards the text to the conversation.
	Converse Kind = iota
	// Start opens a dictation session.
	Start
	// Save writes the accumulated text to a file and closes the session.
	Save
	// Cancel discards the accumulated text and closes the session.
	Cancel
	// Append adds the text to the open session.
	Append
)

func (k Kind) String() string {
	switch k {
	case Converse:
		return "converse"
	case Start:
		return "start"
	case Save:
		return "save"
	case Cancel:
		return "cancel"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

// Action is the routing decision for one transcript.
type Action struct {
	Kind     Kind
	Filename string // set for Save
	Text     string // raw transcript, for Converse and Append
}

// DefaultFilename is used when a save command names no file.
const DefaultFilename = "dictation.txt"

// Phrases are matched as case-insensitive substrings, so an assistant name
// prefix ("Ada, start dictation") matches too.
var (
	startPhrases  = []string{"start dictation", "take dictation", "begin dictation"}
	savePhrase    = "save dictation"
	cancelPhrases = []string{"cancel dictation", "stop dictation"}
)

// Command detects a dictation command in text regardless of session state.
// It returns Converse when the text holds no command. Start phrases win over
// save, and save wins over cancel.
func Command(text string) (Kind, string) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if containsAny(lower, startPhrases) {
		return Start, ""
	}
	if strings.Contains(lower, savePhrase) {
		return Save, ExtractFilename(lower)
	}
	if containsAny(lower, cancelPhrases) {
		return Cancel, ""
	}
	return Converse, ""
}

// Route decides what to do with a transcript. While a session is active only
// save and cancel are commands and everything else is dictated text. While
// idle, save and cancel are still reported so the caller can explain that no
// dictation is open.
func Route(text string, active bool) Action {
	kind, filename := Command(text)
	if active {
		switch kind {
		case Save, Cancel:
			return Action{Kind: kind, Filename: filename}
		default:
			return Action{Kind: Append, Text: text}
		}
	}
	if kind == Converse {
		return Action{Kind: Converse, Text: text}
	}
	return Action{Kind: kind, Filename: filename}
}

// ExtractFilename derives the file name from a save command: lowercase, take what follows the last "as ", trim,
// drop every "." and ",", then add ".txt" when it is not already there.
// Because dots are removed first, "notes.txt" becomes "notestxt.txt".
func ExtractFilename(text string) string {
	lower := strings.ToLower(text)
	parts := strings.Split(lower, "as ")
	if len(parts) < 2 {
		return DefaultFilename
	}
	name := strings.TrimSpace(parts[len(parts)-1])
	name = strings.NewReplacer(".", "", ",", "").Replace(name)
	if !strings.HasSuffix(name, ".txt") {
		name += ".txt"
	}
	return name
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
