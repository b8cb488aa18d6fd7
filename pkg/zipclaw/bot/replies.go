// replies.go holds the outbound message texts and menu keyboards.
package bot

import (
	"fmt"
	"strings"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/channels"
)

// Menu button labels. Matching is tolerant: the bare words work too.
const (
	labelUpload   = "📁 Upload"
	labelDownload = "📥 Download"
	labelList     = "📋 List"
	labelBack     = "⬅️ Back"
)

// Reply is one outbound response computed by the controller.
type Reply struct {
	Text           string
	Keyboard       [][]string
	RemoveKeyboard bool

	// Document is set when the reply carries an artifact.
	Document *channels.Document
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func menuKeyboard() [][]string {
	return [][]string{
		{labelUpload, labelDownload},
		{labelList},
	}
}

func menuReply(text string) Reply {
	return Reply{Text: text, Keyboard: menuKeyboard()}
}

func categoryKeyboard(categories []string) [][]string {
	rows := make([][]string, 0, len(categories)+1)
	for _, c := range categories {
		rows = append(rows, []string{c})
	}
	rows = append(rows, []string{labelBack})
	return rows
}

// menuChoice is a recognized main-menu selection.
type menuChoice int

const (
	choiceNone menuChoice = iota
	choiceUpload
	choiceDownload
	choiceList
)

// matchMenu maps user input to a menu choice. Button labels, bare words,
// and numeric shortcuts are all accepted.
func matchMenu(text string) menuChoice {
	switch normalize(text) {
	case "upload", "upload files", "1":
		return choiceUpload
	case "download", "get", "2":
		return choiceDownload
	case "list", "show all", "3":
		return choiceList
	default:
		return choiceNone
	}
}

// isBack recognizes the back/cancel signal.
func isBack(text string) bool {
	switch normalize(text) {
	case "back", "cancel":
		return true
	}
	return false
}

// isDone recognizes the end-of-upload signal.
func isDone(text string) bool {
	return normalize(text) == "done"
}

// normalize lowercases input and strips button decoration so "📁 Upload"
// and "upload" compare equal.
func normalize(text string) string {
	text = strings.TrimSpace(strings.ToLower(text))
	for _, prefix := range []string{"📁", "📥", "📋", "⬅️"} {
		text = strings.TrimPrefix(text, strings.ToLower(prefix))
	}
	return strings.TrimSpace(text)
}

func formatNames(names []string) string {
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "• %s\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
