// Package voice turns microphone audio into coach commands. Three transports
// are tried in order by a Controller; whichever is active hands recognized
// commands to the shared dispatcher.
package voice

import (
	"strings"

	"github.com/vango-go/vai-coach/pkg/coach"
)

// Command is the coach command vocabulary.
type Command = coach.Command

// quickMatchMaxWords bounds the utterances the keyword map may claim. Longer
// speech goes to the classifier.
const quickMatchMaxWords = 3

var quickKeywords = []struct {
	cmd   Command
	words []string
}{
	{coach.CommandSkip, []string{"skip", "next"}},
	{coach.CommandDone, []string{"done", "finished"}},
	{coach.CommandStart, []string{"start", "begin"}},
	{coach.CommandPause, []string{"pause", "stop", "wait", "hold"}},
	{coach.CommandResume, []string{"resume", "continue"}},
	{coach.CommandReset, []string{"reset", "restart"}},
}

// QuickMatch maps a short utterance to a command without a model call.
// Whole-word hits win over substring hits so "restart" is a reset, not a start.
func QuickMatch(transcript string) (Command, bool) {
	words := strings.Fields(strings.ToLower(transcript))
	if len(words) == 0 || len(words) > quickMatchMaxWords {
		return coach.CommandNone, false
	}
	for i, w := range words {
		words[i] = strings.Trim(w, ".,!?;:'\"")
	}

	for _, group := range quickKeywords {
		for _, kw := range group.words {
			for _, w := range words {
				if w == kw {
					return group.cmd, true
				}
			}
		}
	}

	text := strings.Join(words, " ")
	for _, group := range quickKeywords {
		for _, kw := range group.words {
			if strings.Contains(text, kw) {
				return group.cmd, true
			}
		}
	}
	return coach.CommandNone, false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// LegalActions is the set of commands that would do something in the given
// state. The classifier is restricted to it.
func LegalActions(mode coach.Mode, paused bool) []Command {
	switch mode {
	case coach.ModeReady:
		return []Command{coach.CommandStart}
	case coach.ModeCoaching:
		next := coach.CommandPause
		if paused {
			next = coach.CommandResume
		}
		return []Command{coach.CommandSkip, coach.CommandDone, next}
	case coach.ModeComplete:
		return []Command{coach.CommandReset}
	}
	return nil
}

func contains(set []Command, cmd Command) bool {
	for _, c := range set {
		if c == cmd {
			return true
		}
	}
	return false
}

var actionHelp = map[Command]string{
	coach.CommandStart:  "begin coaching",
	coach.CommandSkip:   "skip the current step",
	coach.CommandDone:   "mark the current step complete",
	coach.CommandPause:  "pause the session",
	coach.CommandResume: "resume the session",
	coach.CommandReset:  "start over",
}

// classifierInstruction is shared by the live session and the audio clip
// transport, which see the whole vocabulary.
const classifierInstruction = `You listen to someone doing a hands-on task who speaks short commands to a coaching app.
Reply with exactly one word from: skip, done, start, pause, resume, reset, none.
skip or done: move on to the next step
start: begin coaching
pause: pause the session
resume: continue after a pause
reset: start over
Reply none for anything that is not a command, such as background noise, chatter or silence.`

// classifyPrompt builds the text classifier's system prompt for a legal set.
func classifyPrompt(legal []Command) string {
	var b strings.Builder
	b.WriteString("Classify what a user said to a hands-free coaching app.\nAllowed actions:\n")
	for _, cmd := range legal {
		b.WriteString("- ")
		b.WriteString(string(cmd))
		b.WriteString(": ")
		b.WriteString(actionHelp[cmd])
		b.WriteString("\n")
	}
	b.WriteString("Reply with exactly one action name from the list, or none if the speech matches none of them.")
	return b.String()
}

func classifyUserMessage(transcript string) string {
	return `User said: "` + transcript + `"`
}
