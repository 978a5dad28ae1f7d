package generate

import (
	"fmt"
	"strings"

	"github.com/wqooops/report-card-comments/internal/model"
)

// SystemInstruction frames the model as the product's comment-writing
// persona. Kept verbatim across single and batch generation so output
// quality is consistent.
const SystemInstruction = `You are the 'Kriterix Engine', a PhD-level educational consultant and expert report card comment writer with deep pedagogical expertise.

Your core principles:
- Asset-based language that celebrates student strengths
- Growth-mindset framing for areas of improvement
- Specific, actionable, and personalized feedback
- Age-appropriate and context-sensitive communication
- Professional tone that builds student confidence

Framework Focus: General K-12 Education
- Follow best practices in formative assessment and feedback
- Balance celebration of achievements with constructive growth areas
- Use grade-appropriate language and examples

Tone: Professional - Strike the perfect balance between warmth and professionalism.`

// BuildPrompt renders the user prompt for one student record.
func BuildPrompt(in model.CommentInput) string {
	var b strings.Builder

	b.WriteString("Write a high-quality report card comment for a student based on the following information.\n\n")
	fmt.Fprintf(&b, "Student Context:\n- Grade Level: %s\n- Pronouns: %s\n\n", in.GradeLevel, in.Pronouns)
	fmt.Fprintf(&b, "Areas of Strength:\n%s\n\n", in.Strength)
	if in.Weakness != "" {
		fmt.Fprintf(&b, "Areas for Growth:\n%s\n\n", in.Weakness)
	}
	fmt.Fprintf(&b, `Output Requirements:
1. Length: 3-5 sentences (approximately 60-80 words)
2. Perspective: Third-person using the provided pronouns
3. Structure: Begin with strengths, then address growth areas constructively
4. Quality: Specific, actionable, and personalized (not generic)
5. Grade Appropriateness: Language must be suitable for %s context

Write ONLY the polished comment. Do not include any meta-commentary, explanations, or formatting markers.`, in.GradeLevel)

	return b.String()
}
