package prompt

import (
	"bytes"
	_ "embed"
	"slices"
	"text/template"
	"time"
)

//go:embed instructions.txt
var Instructions string

type Data struct {
	Date  string
	Tools []string
}

func newData(now time.Time, tools []string) Data {
	return Data{
		Date:  now.Format("Monday, January 2, 2006"),
		Tools: tools,
	}
}

// Default renders the built-in instructions for the given tool names.
func Default(now time.Time, tools []string) (string, error) {
	return Render(Instructions, newData(now, tools))
}

// Func parses tmpl once and returns a renderer that fills in the date at
// call time.
func Func(tmpl string, tools []string, now func() time.Time) (func() (string, error), error) {
	t, err := template.New("prompt").Parse(tmpl)

	if err != nil {
		return nil, err
	}

	tools = slices.Clone(tools)

	return func() (string, error) {
		var buf bytes.Buffer

		if err := t.Execute(&buf, newData(now(), tools)); err != nil {
			return "", err
		}

		return buf.String(), nil
	}, nil
}

func Render(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)

	if err != nil {
		return "", err
	}

	var buf bytes.Buffer

	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
