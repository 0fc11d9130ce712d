// Package export renders a session transcript as JSON, plain text,
// Markdown or YAML.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"

	"gopkg.in/yaml.v3"
)

// Transcript is what every format is derived from.
type Transcript struct {
	Session    entity.Session   `json:"session" yaml:"session"`
	Messages   []entity.Message `json:"messages" yaml:"messages"`
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at"`
}

type Exporter interface {
	Export(t *Transcript, w io.Writer) error
	Extension() string
	ContentType() string
}

// Formats lists the accepted format names.
var Formats = []string{"json", "text", "markdown", "yaml"}

func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSONExporter{}, nil
	case "text", "txt":
		return TextExporter{}, nil
	case "md", "markdown":
		return MarkdownExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	default:
		return nil, apperror.Validation("unsupported export format %q (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

// JSONExporter keeps every field of the message model.
type JSONExporter struct{}

func (JSONExporter) Export(t *Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func (JSONExporter) Extension() string   { return "json" }
func (JSONExporter) ContentType() string { return "application/json" }

type YAMLExporter struct{}

func (YAMLExporter) Export(t *Transcript, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(yamlTranscript(t))
}

func (YAMLExporter) Extension() string   { return "yaml" }
func (YAMLExporter) ContentType() string { return "application/yaml" }

type yamlMessage struct {
	Id        string            `yaml:"id"`
	Role      string            `yaml:"role"`
	Content   string            `yaml:"content"`
	Status    string            `yaml:"status,omitempty"`
	Timestamp string            `yaml:"timestamp"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

type yamlDoc struct {
	Session struct {
		Id       string   `yaml:"id"`
		Title    string   `yaml:"title"`
		Tags     []string `yaml:"tags,omitempty"`
		Messages int      `yaml:"message_count"`
	} `yaml:"session"`
	ExportedAt string        `yaml:"exported_at"`
	Messages   []yamlMessage `yaml:"messages"`
}

// yamlTranscript flattens ids and times to strings so the document reads the
// same as the JSON form.
func yamlTranscript(t *Transcript) yamlDoc {
	var doc yamlDoc
	doc.Session.Id = t.Session.Id.String()
	doc.Session.Title = t.Session.Title
	doc.Session.Tags = t.Session.Tags
	doc.Session.Messages = len(t.Messages)
	doc.ExportedAt = t.ExportedAt.UTC().Format(time.RFC3339)
	doc.Messages = make([]yamlMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, yamlMessage{
			Id:        m.Id.String(),
			Role:      m.Role,
			Content:   m.Content,
			Status:    string(m.Status),
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
			Metadata:  m.Metadata,
		})
	}
	return doc
}

type TextExporter struct{}

func (TextExporter) Export(t *Transcript, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\nExported %s\n\n", t.Session.Title, t.ExportedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	for _, m := range t.Messages {
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n\n", m.Timestamp.UTC().Format("2006-01-02 15:04:05"), roleLabel(m.Role), m.Content); err != nil {
			return err
		}
	}
	return nil
}

func (TextExporter) Extension() string   { return "txt" }
func (TextExporter) ContentType() string { return "text/plain; charset=utf-8" }

type MarkdownExporter struct{}

func (MarkdownExporter) Export(t *Transcript, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Session.Title)
	fmt.Fprintf(&b, "**Session:** %s  \n", t.Session.Id)
	if len(t.Session.Tags) > 0 {
		fmt.Fprintf(&b, "**Tags:** %s  \n", strings.Join(t.Session.Tags, ", "))
	}
	fmt.Fprintf(&b, "**Messages:** %d  \n", len(t.Messages))
	fmt.Fprintf(&b, "**Exported:** %s\n\n", t.ExportedAt.UTC().Format(time.RFC3339))
	b.WriteString("---\n\n")
	for i, m := range t.Messages {
		fmt.Fprintf(&b, "### %s (%s)\n\n%s\n\n", roleLabel(m.Role), m.Timestamp.UTC().Format(time.RFC3339), escapeMarkdown(m.Content))
		if i < len(t.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (MarkdownExporter) Extension() string   { return "md" }
func (MarkdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }

func roleLabel(role string) string {
	switch role {
	case constant.MessageRoleUser:
		return "User"
	case constant.MessageRoleAssistant:
		return "Assistant"
	case constant.MessageRoleSystem:
		return "System"
	default:
		return role
	}
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		lines[i] = strings.ReplaceAll(line, "__", `\_\_`)
	}
	return strings.Join(lines, "\n")
}
