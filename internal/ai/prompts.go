package ai

import "strings"

// Prompt templates use {{style}}, {{title}} and {{content}} placeholders.
const (
	DefaultRewritePrompt = `You are an expert news editor. Rewrite the following news article to be unique, engaging, and plagiarism-free while retaining all factual information.
Style: {{style}}
Original Title: {{title}}
Original Content: {{content}}
Return the response in JSON format: { "title": "New Title", "content": "New Content" }`

	DefaultInterestPrompt = `Rate the general public interest of this news article on a scale of 1 to 10.
Title: {{title}}
Content Snippet: {{content}}
Return ONLY the number.`

	SelectImagePrompt = `You are a photo editor for a news agency. You will be provided with a news article title and a list of candidate images. Your job is to select the ONE image that best represents the article, is high quality, and is most relevant. Return ONLY the index of the selected image (0-based) as a JSON object: { "selectedIndex": number }.`
)

// Snippet lengths, in characters, of the content sent with each request.
const (
	RewriteContentLimit  = 3000
	InterestContentLimit = 500
	SelectContentLimit   = 300
	MaxImageChoices      = 5
)

// Render fills a prompt template.
func Render(template, style, title, content string) string {
	return strings.NewReplacer(
		"{{style}}", style,
		"{{title}}", title,
		"{{content}}", content,
	).Replace(template)
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
