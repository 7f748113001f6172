package report

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/devlab-cloud/labctl/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const summaryTemplate = "summary.tmpl"

type Reporter struct {
	templates *template.Template
	dir       string
}

func (r *Reporter) Render(result models.RunResult) (string, error) {
	buf := &strings.Builder{}
	if err := r.templates.ExecuteTemplate(buf, summaryTemplate, result); err != nil {
		return "", fmt.Errorf("failed to execute summary template: %w", err)
	}

	return buf.String(), nil
}

// Write records the run result as YAML next to the run log.
func (r *Reporter) Write(result models.RunResult) (string, error) {
	data, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run result: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-result.yaml", result.Name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run result: %w", err)
	}

	return path, nil
}

func New(dir string) (*Reporter, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse report templates: %w", err)
	}

	return &Reporter{templates: templates, dir: dir}, nil
}
