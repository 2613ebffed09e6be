// Package htmlconv converts extracted page HTML into markdown so the oracle
// sees compact, readable content instead of raw markup.
package htmlconv

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

var htmlTagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)

const htmlTagThreshold = 3

// ConvertIfHTML detects if the input is HTML and converts it to markdown if
// needed. Returns the converted text and whether conversion was performed.
func ConvertIfHTML(input string) (string, bool) {
	if !IsHTML(input) {
		return input, false
	}

	cleaned, err := stripNoise(input)
	if err != nil {
		cleaned = input
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		return input, false
	}

	return cleanMarkdown(markdown), true
}

// IsHTML reports whether the input text is likely HTML.
func IsHTML(input string) bool {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "<!DOCTYPE") ||
		strings.HasPrefix(trimmed, "<!doctype") ||
		strings.HasPrefix(trimmed, "<html") ||
		strings.HasPrefix(trimmed, "<HTML") {
		return true
	}

	tagCount := len(htmlTagPattern.FindAllString(input, -1))
	if tagCount == 0 {
		return false
	}
	if tagCount >= htmlTagThreshold {
		return true
	}

	lowerInput := strings.ToLower(input)
	hasStructure := strings.Contains(lowerInput, "<body") ||
		strings.Contains(lowerInput, "<div") ||
		strings.Contains(lowerInput, "<table") ||
		strings.Contains(lowerInput, "<h1") ||
		strings.Contains(lowerInput, "<h2")

	return tagCount >= 2 && hasStructure
}

// stripNoise removes script, style and other non-content nodes before
// conversion.
func stripNoise(input string) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input, err
	}

	removeUnwantedNodes(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return input, err
	}
	return buf.String(), nil
}

func removeUnwantedNodes(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		removeUnwantedNodes(child)
		child = next
	}

	if shouldRemoveNode(n) && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func shouldRemoveNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "iframe", "svg", "template":
		return true
	}
	return false
}

func cleanMarkdown(markdown string) string {
	multipleNewlines := regexp.MustCompile(`\n{3,}`)
	markdown = multipleNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
