package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "mem://catalog/story.schema.json"

// Пространство имен для детерминированных идентификаторов: повторный импорт
// документа дает те же ID истории, персонажей и узлов.
var storyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("multiverse-server/story"))

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func storySchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("failed to load story schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Document авторское описание истории в YAML.
type Document struct {
	Slug        string              `yaml:"slug"`
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	MaxPlayers  int                 `yaml:"max_players"`
	Characters  []CharacterDocument `yaml:"characters"`
	Nodes       []NodeDocument      `yaml:"nodes"`
}

type CharacterDocument struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type NodeDocument struct {
	Key     string          `yaml:"key"`
	Title   string          `yaml:"title"`
	Body    string          `yaml:"body"`
	Ending  bool            `yaml:"ending"`
	Choices []models.Choice `yaml:"choices"`
}

// Parse проверяет документ по JSON-схеме и разбирает его.
func Parse(data []byte) (*Document, error) {
	instance, err := schemaInstance(data)
	if err != nil {
		return nil, err
	}
	schema, err := storySchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return &doc, nil
}

// schemaInstance переводит YAML в JSON-значение, которое ожидает Validate:
// map[string]interface{}, []interface{} и json.Number для чисел.
func schemaInstance(data []byte) (interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", models.ErrInvalidInput, err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: document is not representable as JSON: %v", models.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	var instance interface{}
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return instance, nil
}

// StoryID детерминированный идентификатор истории по slug.
func StoryID(slug string) uuid.UUID {
	return uuid.NewSHA1(storyNamespace, []byte(strings.ToLower(slug)))
}

// Build строит модели каталога. Персонажи и варианты сохраняют авторский порядок.
func (d *Document) Build() (*models.Story, []models.StoryNode) {
	storyID := StoryID(d.Slug)
	story := &models.Story{
		ID:          storyID,
		Title:       d.Title,
		Description: d.Description,
		MaxPlayers:  d.MaxPlayers,
		Characters:  make([]models.Character, 0, len(d.Characters)),
	}
	for i, ch := range d.Characters {
		story.Characters = append(story.Characters, models.Character{
			ID:          uuid.NewSHA1(storyID, []byte("character:"+ch.Name)),
			StoryID:     storyID,
			Name:        ch.Name,
			Description: ch.Description,
			Position:    i,
		})
	}

	nodes := make([]models.StoryNode, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		choices := make([]models.Choice, len(n.Choices))
		copy(choices, n.Choices)
		nodes = append(nodes, models.StoryNode{
			ID:       uuid.NewSHA1(storyID, []byte("node:"+n.Key)),
			StoryID:  storyID,
			Key:      n.Key,
			Title:    n.Title,
			Body:     n.Body,
			IsEnding: n.Ending,
			Choices:  choices,
		})
	}
	return story, nodes
}
