package agent

import (
	"fmt"
	"strings"
	"time"
)

// Guardrails is the fixed behavioural preamble for every scout invocation.
// Users never see or edit it.
const Guardrails = `You are a professional content scout and curator for social media.

CORE PRINCIPLES:
- Be objective and fact-based in your analysis
- Prioritize quality over quantity
- Respect copyright and provide proper attribution
- Avoid clickbait, sensationalism, or misleading information
- Focus on content that provides genuine value to the audience`

// toolInstructions carries per-tool guidance, injected when the tool is
// bound for the run.
var toolInstructions = map[string]string{
	"google_search": `TOOL: google_search
Use this to find recent news, articles, and web content.
Provide clear search queries related to the goal.`,

	"rss": `TOOL: rss
Use this to interact with your RSS feeds.
The necessary feeds are ALREADY subscribed.
Step 1: Call rss(action='list') to see available feeds.
Step 2: Call rss(action='read', feed_id=...) to get content from the relevant feed.
Do NOT try to fetch from URLs directly unless explicitly instructed.`,

	"reddit": `TOOL: reddit
Use this to browse posts from specified subreddits.
You can control the sort parameter: "hot" (trending), "new" (most recent), "top" (highest rated), or "rising" (gaining momentum).
Look for highly upvoted, recent, and engaging discussions.`,

	"arxiv": `TOOL: arxiv
Use this to search academic research papers.
Provide search queries related to the research topic.`,

	"http_request": `TOOL: http_request
Use this to fetch and read content from any web URL.
You can extract the full page text or use CSS selectors to target specific elements.
Examples:
- http_request(url="https://example.com/article") - Read entire page
- http_request(url="https://example.com", selector="article") - Extract just the article
- http_request(url="https://example.com", extract_links=True) - Get all links from page
Best for: Reading blog posts, articles, documentation, and web content.`,

	"browser": `TOOL: browser [EXPERIMENTAL]
Use this to navigate web pages and extract content.
NOTE: Complex multi-step interactions may not work reliably.
Best for: Single-page navigation and text extraction.`,
}

// platformInstructions carries per-platform output formatting rules for
// generation scouts.
var platformInstructions = map[string]string{
	"x": `OUTPUT FORMAT FOR X (TWITTER):
- Maximum 280 characters per post
- Use 2-3 relevant hashtags maximum
- Include emojis strategically for engagement
- If content exceeds 280 chars, use thread_content field for continuation
- Keep tone conversational and engaging`,

	"linkedin": `OUTPUT FORMAT FOR LINKEDIN:
- Professional and insightful tone
- Can be longer (up to 3000 characters)
- Focus on key takeaways and business value
- Use line breaks for readability
- Hashtags optional but can improve discoverability`,
}

// structuredOutput tells the model how to shape its final turn so the
// runtime can decode it into items. Appended by GenerateItems.
const structuredOutput = `OUTPUT FORMAT:
When you are done using tools, reply with ONLY a JSON object shaped exactly like:
{"items": [{"title": "...", "url": "...", "summary": "...", "sources": ["..."], "image_path": "..."}]}
"items" may be empty when nothing qualifies.
"sources" lists the URLs or titles you drew on for that item.
Omit "image_path" unless an image was actually generated.
No prose before or after the JSON.`

// ImageInstructions is appended to the system prompt when the scout config
// enables image output.
const ImageInstructions = `ALSO: Generate an image that represents the most interesting content you found.
Use the image generation tool.
The image should be high quality and relevant to the content.
In your output, populate the "image_path" field for the item that corresponds to the generated image.
If no image was generated, omit the field.`

// ToolCatalogue combines the guidance blocks for the named tools. Unknown
// names are skipped so callers can pass the raw config list.
func ToolCatalogue(tools []string) string {
	if len(tools) == 0 {
		return ""
	}
	sections := []string{"AVAILABLE TOOLS:"}
	for _, name := range tools {
		if text, ok := toolInstructions[name]; ok {
			sections = append(sections, text)
		}
	}
	if len(sections) == 1 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}

// PlatformRules returns the formatting rules for platform, or empty when the
// platform has none (notify-only included).
func PlatformRules(platform string) string {
	return platformInstructions[platform]
}

// Prompt is the structured system prompt for one invocation. Only Goal is
// steered by the user; the other sections are engine-owned.
type Prompt struct {
	Guardrails string
	Tools      string
	Platform   string
	Goal       string
	Date       time.Time
	Limit      int
}

// Build joins the populated sections with blank lines, closing with a
// context block carrying the run date and the item limit.
func (p Prompt) Build() string {
	var sections []string
	if p.Guardrails != "" {
		sections = append(sections, p.Guardrails)
	}
	if p.Tools != "" {
		sections = append(sections, p.Tools)
	}
	if p.Goal != "" {
		sections = append(sections, "YOUR GOAL: "+p.Goal)
	}
	if p.Platform != "" {
		sections = append(sections, p.Platform)
	}
	date := p.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	ctxLines := []string{"CONTEXT:", "date: " + date.Format("2006-01-02")}
	if p.Limit > 0 {
		ctxLines = append(ctxLines, fmt.Sprintf("limit: %d", p.Limit))
	}
	sections = append(sections, strings.Join(ctxLines, "\n"))
	return strings.Join(sections, "\n\n")
}
