package agent

import (
	"fmt"
	"strings"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

const defaultImageMime = "image/jpeg"

// Assemble builds the answer shown to the user: the model's answer,
// then every verbatim payload (inline images the model cannot quote)
// that the answer does not already contain, then a manifest of the
// tools used.
func Assemble(answer string, toolsUsed []string, pending []tools.Result) string {
	out := strings.TrimSpace(answer)
	add := func(block string) {
		if out == "" {
			out = block
			return
		}
		out += "\n\n" + block
	}

	for _, r := range pending {
		v, ok := verbatimPayload(r)
		if !ok || strings.Contains(out, v) {
			continue
		}
		add(v)
	}

	if len(toolsUsed) > 0 {
		add("---\nTools used: " + toolManifest(toolsUsed))
	}
	return out
}

// verbatimPayload returns the text a result contributes to the answer
// as-is, if any. Image payloads become markdown data URIs; text that
// already carries a markdown image or data URI is passed through.
func verbatimPayload(r tools.Result) (string, bool) {
	if !r.OK() {
		return "", false
	}
	if md, ok := imageMarkdown(r); ok {
		return md, true
	}
	if strings.Contains(r.RawText, "![") || strings.Contains(r.RawText, "data:image") {
		return r.RawText, true
	}
	return "", false
}

// imageMarkdown renders an image_base64 payload as a markdown image.
func imageMarkdown(r tools.Result) (string, bool) {
	fields := r.Fields()
	b64, _ := fields["image_base64"].(string)
	if b64 == "" {
		return "", false
	}
	mime, _ := fields["mime_type"].(string)
	if mime == "" {
		mime = defaultImageMime
	}
	return fmt.Sprintf("![Image](data:%s;base64,%s)", mime, b64), true
}

// toolManifest renders "a (2x), b" with names in first-use order.
func toolManifest(used []string) string {
	counts := countInOrder(used)
	parts := make([]string, len(counts))
	for i, c := range counts {
		if c.Count > 1 {
			parts[i] = fmt.Sprintf("%s (%dx)", c.Name, c.Count)
		} else {
			parts[i] = c.Name
		}
	}
	return strings.Join(parts, ", ")
}
