package acp

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/errors"
)

// maxResourceSize caps file contents inlined from resource links.
const maxResourceSize = 50000

// readFileFromURI reads the file behind a file:// URI.
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsedURL.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// promptText folds the prompt's content blocks into one user turn.
func promptText(blocks []wire.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, resourceLinkText(b))
		case "resource":
			if b.Resource != nil {
				parts = append(parts, embeddedResourceText(b.Resource))
			}
		case "image", "audio":
			label := strings.ToUpper(b.Type[:1]) + b.Type[1:]
			if b.MimeType != "" {
				parts = append(parts, fmt.Sprintf("[%s: %s]", label, b.MimeType))
			} else {
				parts = append(parts, fmt.Sprintf("[%s]", label))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func resourceLinkText(b wire.ContentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", truncateResource(content))
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

func embeddedResourceText(r *wire.EmbeddedResource) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", r.URI)
	if r.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", r.MimeType)
	}
	switch {
	case r.Text != "":
		fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", truncateResource(r.Text))
	case r.Blob != "":
		sb.WriteString("\n[Binary resource - content not shown]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

// truncateResource cuts content to maxResourceSize bytes without splitting
// a UTF-8 sequence.
func truncateResource(content string) string {
	if len(content) <= maxResourceSize {
		return content
	}
	cut := maxResourceSize
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "\n\n[... truncated to 50KB ...]"
}
