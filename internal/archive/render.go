package archive

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"arena/internal/arena"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown flattens a battle into a readable transcript document:
// prompt, one section per model response, then the verdict and the user's
// vote if present.
func renderMarkdown(b *arena.Battle) string {
	var sb strings.Builder

	title := strings.TrimSpace(b.Title)
	if title == "" {
		title = "Battle " + b.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "_%s • %d models • %s_\n\n", b.Status, len(b.Models), b.CreatedAt.Format("2006-01-02 15:04 MST"))

	sb.WriteString("## Prompt\n\n")
	sb.WriteString(strings.TrimSpace(b.Prompt))
	sb.WriteString("\n\n")

	for _, m := range b.Models {
		fmt.Fprintf(&sb, "---\n\n## %s\n\n", modelHeading(m))
		r := b.Responses[m.ID]
		switch {
		case r == nil:
			sb.WriteString("_no response_\n\n")
		case r.Err != "":
			fmt.Fprintf(&sb, "**Error:** %s\n\n", r.Err)
		default:
			if r.Reasoning != "" {
				sb.WriteString("### Reasoning\n\n")
				sb.WriteString(strings.TrimSpace(r.Reasoning))
				sb.WriteString("\n\n")
			}
			sb.WriteString(strings.TrimSpace(r.Content))
			sb.WriteString("\n\n")
			if len(r.Sources) > 0 {
				sb.WriteString("### Sources\n\n")
				for _, s := range r.Sources {
					if s.Title != "" {
						fmt.Fprintf(&sb, "- [%s](%s)\n", s.Title, s.URL)
					} else {
						fmt.Fprintf(&sb, "- <%s>\n", s.URL)
					}
				}
				sb.WriteString("\n")
			}
			if r.Usage != nil {
				fmt.Fprintf(&sb, "_%d input / %d output tokens_\n\n", r.Usage.InputTokens, r.Usage.OutputTokens)
			}
		}
	}

	if j := b.Judgment; j != nil {
		sb.WriteString("---\n\n## Verdict\n\n")
		if j.WinnerID != nil {
			fmt.Fprintf(&sb, "**Winner:** %s\n\n", modelName(b, *j.WinnerID))
		} else {
			sb.WriteString("**Winner:** tie\n\n")
		}
		if len(j.Scores) > 0 {
			sb.WriteString("| Model | Score |\n|---|---|\n")
			for _, m := range b.Models {
				if s, ok := j.Scores[m.ID]; ok {
					fmt.Fprintf(&sb, "| %s | %d |\n", modelHeading(m), s)
				}
			}
			sb.WriteString("\n")
		}
		if j.Analysis != "" {
			sb.WriteString(strings.TrimSpace(j.Analysis))
			sb.WriteString("\n\n")
		}
	}

	if b.UserVote != "" {
		fmt.Fprintf(&sb, "---\n\n**User vote:** %s\n", modelName(b, b.UserVote))
	}
	return sb.String()
}

func modelHeading(m arena.Model) string {
	if m.Name != "" && m.Name != m.ID {
		return fmt.Sprintf("%s (%s)", m.Name, m.Provider)
	}
	return m.ID
}

func modelName(b *arena.Battle, id string) string {
	if m, ok := b.ModelByID(id); ok && m.Name != "" {
		return m.Name
	}
	return id
}

// renderHTML converts the markdown transcript to a standalone styled page,
// ready for a chromium-based PDF converter.
func renderHTML(b *arena.Battle) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(renderMarkdown(b)), &body); err != nil {
		return nil, fmt.Errorf("archive: render battle %s: %w", b.ID, err)
	}
	title := strings.TrimSpace(b.Title)
	if title == "" {
		title = "Battle " + b.ID
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<title>")
	page.WriteString(html.EscapeString(title))
	page.WriteString("</title>\n<style>\n")
	page.WriteString(transcriptCSS)
	page.WriteString("</style>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("\n</body>\n</html>\n")
	return page.Bytes(), nil
}

const transcriptCSS = `body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
  max-width: 800px;
  margin: 40px auto;
  padding: 20px;
  line-height: 1.6;
  color: #333;
}
h1 { color: #2c3e50; border-bottom: 2px solid #3498db; padding-bottom: 10px; }
h2 { color: #34495e; margin-top: 24px; }
h3 { color: #7f8c8d; }
pre {
  background: #f4f4f4;
  padding: 12px;
  border-radius: 5px;
  overflow-x: auto;
  border-left: 3px solid #3498db;
}
code {
  background: #f4f4f4;
  padding: 2px 6px;
  border-radius: 3px;
  font-family: 'Courier New', monospace;
}
table { border-collapse: collapse; margin: 12px 0; }
th, td { border: 1px solid #ddd; padding: 6px 12px; }
p { margin: 12px 0; }
hr { border: none; border-top: 1px solid #ddd; margin: 24px 0; }
`
