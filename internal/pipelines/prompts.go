package pipelines

import (
	"fmt"
	"strings"
)

// Strict-mode JSON schemas for structured outputs. Every object level
// carries additionalProperties=false and a full required list, which the
// provider's strict decoding demands.

func objSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func strListProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
	}
}

func courseMetadataSchema() map[string]any {
	return objSchema(map[string]any{
		"description": strProp("Two to three sentence course description for learners."),
		"categories":  strListProp("One to three broad subject categories."),
	}, "description", "categories")
}

func coverPromptSchema() map[string]any {
	return objSchema(map[string]any{
		"cover_prompt": strProp("Image-generation prompt for a cover illustration. No text in the image."),
	}, "cover_prompt")
}

func altTitlesSchema() map[string]any {
	return objSchema(map[string]any{
		"alt_titles": strListProp("Three to five alternative titles, distinct phrasings of the same topic."),
	}, "alt_titles")
}

func chapterOutlineSchema() map[string]any {
	return objSchema(map[string]any{
		"title":       strProp("Chapter title."),
		"description": strProp("One to two sentence chapter summary."),
		"lessons":     strListProp("Three to six lesson titles in teaching order."),
	}, "title", "description", "lessons")
}

func lessonContentSchema() map[string]any {
	return objSchema(map[string]any{
		"content": strProp("Full lesson body in Markdown, roughly 400-700 words."),
	}, "content")
}

func activitiesSchema() map[string]any {
	return objSchema(map[string]any{
		"activities": map[string]any{
			"type":        "array",
			"description": "Two to four practice activities for the lesson.",
			"items":       activityItemSchema(),
		},
	}, "activities")
}

func activityItemSchema() map[string]any {
	return objSchema(map[string]any{
		"title":          strProp("Short activity title."),
		"kind":           map[string]any{"type": "string", "enum": []string{"quiz", "open_ended"}},
		"question":       strProp("The question posed to the learner."),
		"answers":        strListProp("Answer choices. Empty for open_ended."),
		"correct_answer": strProp("The correct choice verbatim. Empty for open_ended."),
	}, "title", "kind", "question", "answers", "correct_answer")
}

func activityOptionsSchema() map[string]any {
	return objSchema(map[string]any{
		"question":       strProp("The question posed to the learner."),
		"answers":        strListProp("Four answer choices."),
		"correct_answer": strProp("The correct choice verbatim."),
		"explanation":    strProp("One sentence on why the answer is correct."),
	}, "question", "answers", "correct_answer", "explanation")
}

const systemPrompt = "You generate structured educational content. " +
	"Respond only with JSON matching the requested schema. " +
	"Keep language clear and beginner friendly unless told otherwise."

func languageLine(lang string) string {
	if lang == "" {
		return ""
	}
	return fmt.Sprintf("\nWrite all content in %s.", lang)
}

func courseMetadataPrompt(title, userPrompt, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a description and categories for a course titled %q.", title)
	if userPrompt != "" {
		fmt.Fprintf(&b, "\nLearner request: %s", userPrompt)
	}
	b.WriteString(languageLine(lang))
	return b.String()
}

func coverPromptText(kind, title, lang string) string {
	return fmt.Sprintf("Write an image-generation prompt for the cover of a %s titled %q.%s",
		kind, title, languageLine(lang))
}

func altTitlesPrompt(title, lang string) string {
	return fmt.Sprintf("Suggest alternative titles for a course titled %q.%s",
		title, languageLine(lang))
}

func chapterOutlinePrompt(courseTitle, courseDescription, userPrompt, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outline the next chapter of the course %q.", courseTitle)
	if courseDescription != "" {
		fmt.Fprintf(&b, "\nCourse description: %s", courseDescription)
	}
	if userPrompt != "" {
		fmt.Fprintf(&b, "\nLearner request: %s", userPrompt)
	}
	b.WriteString(languageLine(lang))
	return b.String()
}

func lessonContentPrompt(courseTitle, chapterTitle, lessonTitle, lang string) string {
	return fmt.Sprintf("Write the lesson %q from the chapter %q of the course %q.%s",
		lessonTitle, chapterTitle, courseTitle, languageLine(lang))
}

func activitiesPrompt(lessonTitle, lessonContent, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create practice activities for the lesson %q.", lessonTitle)
	if lessonContent != "" {
		fmt.Fprintf(&b, "\nLesson content:\n%s", truncate(lessonContent, 4000))
	}
	b.WriteString(languageLine(lang))
	return b.String()
}

func activityOptionsPrompt(activityTitle, lessonTitle, lessonContent, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a quiz question for the activity %q in the lesson %q.", activityTitle, lessonTitle)
	if lessonContent != "" {
		fmt.Fprintf(&b, "\nLesson content:\n%s", truncate(lessonContent, 4000))
	}
	b.WriteString(languageLine(lang))
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
