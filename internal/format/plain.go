package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"pkt.systems/eclkernel/schema"
)

const indent = "  "

// PlainRenderer formats workunit output as text.
type PlainRenderer struct{}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

// FormatResult renders one result set as "<name>:  <rows>\n".
func (p *PlainRenderer) FormatResult(name string, rows []any) (string, error) {
	text, err := marshalRows(rows)
	if err != nil {
		return "", fmt.Errorf("format result %s: %w", name, err)
	}
	return name + ":  " + text + "\n", nil
}

// FormatExceptions renders workunit exceptions as indented JSON.
func (p *PlainRenderer) FormatExceptions(exceptions []schema.ECLException) (string, error) {
	if exceptions == nil {
		exceptions = []schema.ECLException{}
	}
	text, err := marshalIndent(exceptions)
	if err != nil {
		return "", err
	}
	return text + "\n", nil
}

// FormatProgress renders the state line shown while a workunit runs.
func (p *PlainRenderer) FormatProgress(id schema.WorkunitID, state schema.WorkunitState) schema.MimeBundle {
	return schema.MimeBundle{"text/plain": fmt.Sprintf("%s: %s", id, state)}
}

// Traceback renders one line per exception.
func Traceback(exceptions []schema.ECLException) []string {
	if len(exceptions) == 0 {
		return nil
	}
	lines := make([]string, 0, len(exceptions))
	for _, ex := range exceptions {
		lines = append(lines, exceptionLine(ex))
	}
	return lines
}

func exceptionLine(ex schema.ECLException) string {
	var b strings.Builder
	severity := strings.TrimSpace(ex.Severity)
	if severity == "" {
		severity = "Error"
	}
	b.WriteString(severity)
	if ex.Code != 0 {
		fmt.Fprintf(&b, " %d", ex.Code)
	}
	b.WriteString(": ")
	b.WriteString(ex.Message)
	if ex.FileName != "" || ex.LineNo > 0 {
		file := ex.FileName
		if file == "" {
			file = "<input>"
		}
		fmt.Fprintf(&b, " (%s:%d:%d)", file, ex.LineNo, ex.Column)
	}
	return b.String()
}

func marshalRows(rows []any) (string, error) {
	if rows == nil {
		rows = []any{}
	}
	return marshalIndent(rows)
}

// marshalIndent encodes v as indented JSON without HTML escaping.
func marshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
