// Package prompt builds generation requests from conversation state and form input.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/generation"
)

// InstructionVersion identifies the revision of SystemInstruction. Bump it
// whenever the instruction text changes so transcripts can be correlated.
const InstructionVersion = "2025-01"

// SystemInstruction is sent out-of-band with every chat request.
const SystemInstruction = `You are Curriculum Designer — a friendly, professional, and structured education expert.

Your goal: Help teachers, tutors & educators create high-quality, customized curricula.

Follow this strict workflow:
1. Greet and ask for these details (one by one or together):
   - Subject / Topic
   - Grade / Age level
   - Duration (weeks / months / total hours)
   - Main learning objectives or goals
   - Any special requirements (project-based, inclusive, exam-oriented, language, etc.)

2. Once you have enough info, create a complete curriculum plan using clear markdown:
   - Title & Overview
   - SMART learning objectives
   - Unit / Week-by-week breakdown (topics + subtopics + estimated time)
   - Teaching & learning activities
   - Assessment methods
   - Resources & materials
   - Differentiation / adaptations for diverse learners

3. Always format output beautifully with headings, bullets, tables when useful.
4. After presenting the plan → ask: "Would you like to modify anything? Add/remove units? Change focus? Make it more detailed?"

Be encouraging, patient, and precise. Use simple language unless the user asks for academic tone.`

const (
	summaryTurns      = 8
	summaryTurnChars  = 300
	expandContextSize = 500
)

// RoleFor maps a speaker to the generation service's role vocabulary.
func RoleFor(s domain.Speaker) generation.Role {
	if s == domain.SpeakerAssistant {
		return generation.RoleModel
	}
	return generation.RoleUser
}

// Compose builds a chat request: the fixed instruction, the replayed history,
// and the new user message.
func Compose(instruction string, history []domain.Turn, newUserText string) generation.Request {
	msgs := make([]generation.Message, 0, len(history))
	for _, t := range history {
		msgs = append(msgs, generation.Message{Role: RoleFor(t.Role), Text: t.Text})
	}
	return generation.Request{
		SystemInstruction: instruction,
		History:           msgs,
		NewMessage:        newUserText,
	}
}

// QuickGenerate builds the single-shot request asking for a JSON curriculum.
func QuickGenerate(f domain.QuickForm) generation.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Design a %d-semester curriculum for learning %q at %s level.\n", f.Semesters, strings.TrimSpace(f.Skill), f.Level)
	fmt.Fprintf(&b, "Assume about %d study hours per week.\n", f.WeeklyHours)
	if focus := strings.TrimSpace(f.IndustryFocus); focus != "" {
		fmt.Fprintf(&b, "Align courses with the needs of the %s industry.\n", focus)
	}
	b.WriteString("\nReturn ONLY valid JSON, with no markdown fences and no commentary, using exactly this structure:\n")
	b.WriteString(`{
  "program_title": "string",
  "semesters": [
    {
      "semester": 1,
      "courses": [
        {
          "course_name": "string",
          "credits": 3,
          "topics": ["string"],
          "learning_outcomes": ["string"]
        }
      ]
    }
  ]
}`)
	fmt.Fprintf(&b, "\nInclude exactly %d semesters, numbered from 1.", f.Semesters)
	return generation.Request{NewMessage: b.String()}
}

// Summarize builds the request that condenses the recent conversation into notes.
func Summarize(turns []domain.Turn) generation.Request {
	if len(turns) > summaryTurns {
		turns = turns[len(turns)-summaryTurns:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("**%s**: %s...", t.Role, truncate(t.Text, summaryTurnChars)))
	}
	return generation.Request{
		NewMessage: "Summarize the following curriculum discussion concisely in markdown notes format:\n\n" + strings.Join(lines, "\n"),
	}
}

// Expand builds the request for structured notes on one topic, using the
// latest turn as context.
func Expand(topic, lastTurn string) generation.Request {
	return generation.Request{
		NewMessage: fmt.Sprintf("Create well-structured markdown notes on: '%s'\nSuitable for curriculum revision.\nContext: %s...",
			strings.TrimSpace(topic), truncate(lastTurn, expandContextSize)),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
