package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/balkashynov/tracker/internal/db"
)

// TaskDocument is a task tree as written in YAML or JSON
type TaskDocument struct {
	Name                string          `yaml:"name"`
	Description         string          `yaml:"description"`
	Priority            string          `yaml:"priority"`
	Due                 string          `yaml:"due"`
	Tags                []string        `yaml:"tags"`
	DefinitionOfDone    string          `yaml:"definition_of_done"`
	PingIntervalMinutes int             `yaml:"ping_interval_minutes"`
	PingEnabled         *bool           `yaml:"ping_enabled"`
	Phases              []PhaseDocument `yaml:"phases"`
}

// PhaseDocument is one phase of a TaskDocument
type PhaseDocument struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Status      string         `yaml:"status"`
	Order       *int           `yaml:"order"`
	Todos       []TodoDocument `yaml:"todos"`
}

// TodoDocument is a todo, written either as a mapping or as a bare name
type TodoDocument struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
}

func (t *TodoDocument) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Name = node.Value
		return nil
	}
	type plain TodoDocument
	return node.Decode((*plain)(t))
}

// ParseTaskTree decodes a task tree. JSON is accepted as YAML.
func ParseTaskTree(r io.Reader) (*TaskDocument, error) {
	var doc TaskDocument
	if err := decodeStrict(r, &doc); err != nil {
		return nil, fmt.Errorf("parse task tree: %w", err)
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("parse task tree: name is required")
	}
	return &doc, nil
}

// ParseTaskTreeFile reads and decodes a task tree file
func ParseTaskTreeFile(path string) (*TaskDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTaskTree(bytes.NewReader(data))
}

// Request converts the document into a store request, resolving the due
// date against now
func (d *TaskDocument) Request(now time.Time) (db.CreateTaskRequest, error) {
	due, err := ParseDueDateAt(d.Due, now)
	if err != nil {
		return db.CreateTaskRequest{}, fmt.Errorf("due: %w", err)
	}
	req := db.CreateTaskRequest{
		Name:                d.Name,
		Description:         d.Description,
		Priority:            d.Priority,
		DueDate:             due,
		ContextTags:         d.Tags,
		DefinitionOfDone:    d.DefinitionOfDone,
		PingIntervalMinutes: d.PingIntervalMinutes,
		PingEnabled:         d.PingEnabled,
	}
	for _, p := range d.Phases {
		phase := db.PhaseRequest{Name: p.Name, Description: p.Description, Status: p.Status, Order: p.Order}
		for _, t := range p.Todos {
			phase.Todos = append(phase.Todos, db.TodoRequest{Name: t.Name, Description: t.Description, Status: t.Status})
		}
		req.Phases = append(req.Phases, phase)
	}
	return req, nil
}

// ParseReport decodes a progress report: either a list of items or a
// mapping with an "items" list
func ParseReport(r io.Reader) ([]db.ReportItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("parse report: empty document")
	}

	var items []db.ReportItem
	if node.Content[0].Kind == yaml.SequenceNode {
		err = decodeStrict(bytes.NewReader(data), &items)
	} else {
		var wrapped struct {
			Items []db.ReportItem `yaml:"items"`
		}
		err = decodeStrict(bytes.NewReader(data), &wrapped)
		items = wrapped.Items
	}
	if err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return items, nil
}

// ParseReportFile reads and decodes a report file
func ParseReportFile(path string) ([]db.ReportItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseReport(f)
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty document")
		}
		return err
	}
	return nil
}
