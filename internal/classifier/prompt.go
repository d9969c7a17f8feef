package classifier

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone names from config must resolve in minimal images

	"github.com/MrWong99/voxassist/pkg/command"
)

// typeMeanings explains each command type to the model. Order follows
// [command.Taxonomy].
var typeMeanings = map[command.Type]string{
	command.General:          "a factual or informational question, or small talk",
	command.GoogleSearch:     "the user wants to search something on Google",
	command.YouTubeSearch:    "the user wants to search something on YouTube",
	command.YouTubePlay:      "the user wants to directly play a video or song",
	command.GetTime:          "the user asks for the current time",
	command.GetDate:          "the user asks for today's date",
	command.GetDay:           "the user asks what day it is",
	command.GetMonth:         "the user asks for the current month",
	command.CalculatorOpen:   "the user wants to open a calculator",
	command.InstagramOpen:    "the user wants to open Instagram",
	command.FacebookOpen:     "the user wants to open Facebook",
	command.WeatherShow:      "the user wants to know the weather",
	command.WikipediaSearch:  "the user wants to look something up on Wikipedia",
	command.Translate:        "the user wants text translated; userInput is the text",
	command.GmailOpen:        "the user wants to open Gmail or their email",
	command.MapsSearch:       "the user wants a place or directions on a map",
	command.NewsSearch:       "the user wants news about a topic",
	command.NotepadOpen:      "the user wants to open a notepad",
	command.CurrencyConvert:  "the user wants a currency conversion; userInput is the conversion query",
	command.Timer:            "the user wants to set a timer",
	command.LinkedInOpen:     "the user wants to open LinkedIn",
	command.ChatGPTOpen:      "the user wants to open ChatGPT",
	command.InstagramProfile: "the user wants a specific Instagram profile; userInput is the handle",
	command.LinkedInProfile:  "the user wants a specific LinkedIn profile; userInput is the profile slug",
}

const promptTemplate = `%s

You are a virtual assistant named %s created by %s.
You are not Google. You behave like a voice-enabled assistant.

Your task is to understand the user's natural language input and respond with a JSON object like this:

{
  "type": %s,
  "userInput": "<original user input, with your name removed; for searches only the search text>",
  "response": "<a short spoken response to read out loud to the user>"
}

Instructions:
- "type": the intent of the user.
- "userInput": the sentence the user spoke. Remove your own name if present. If the user asked to search something, keep only the search text.
- "response": a short voice-friendly reply, e.g. "Sure, playing it now", "Here's what I found", "Today is Tuesday".

Type meanings:
%s
Important:
- If someone asks who created you, answer with %s.
- The current local date and time is %s. Use it for time, date, day and month questions.
- Only respond with the JSON object, nothing else.`

// languageHint returns the reply-language instruction for locale.
func languageHint(locale string) string {
	if strings.EqualFold(locale, "hi-IN") {
		return "अब से तुम सिर्फ हिंदी में जवाब दोगे। (From now on, respond only in Hindi.)"
	}
	return "Now respond only in English."
}

// buildSystemPrompt renders the classification prompt for p at now.
func buildSystemPrompt(p Persona, now time.Time) string {
	types := command.Taxonomy()

	quoted := make([]string, len(types))
	var meanings strings.Builder
	for i, t := range types {
		quoted[i] = `"` + string(t) + `"`
		fmt.Fprintf(&meanings, "- %q: %s.\n", string(t), typeMeanings[t])
	}

	return fmt.Sprintf(promptTemplate,
		languageHint(p.Locale),
		p.AssistantName,
		p.CreatorName,
		strings.Join(quoted, " | "),
		meanings.String(),
		p.CreatorName,
		now.Format("Monday, 2 January 2006 15:04 MST"),
	)
}

// localTime returns now in the persona's zone, falling back to now's zone
// when the name cannot be loaded.
func localTime(now time.Time, zone string) time.Time {
	if zone == "" {
		return now
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return now
	}
	return now.In(loc)
}
