package api

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderHTML renders a markdown answer to an HTML fragment. Image
// markdown such as ![dog](data:image/jpeg;base64,...) becomes an <img>
// element.
func renderHTML(md string) (string, error) {
	if md == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
