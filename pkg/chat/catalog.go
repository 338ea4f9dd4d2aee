// Package chat holds the static prompt catalog and per-session conversation
// logs shown by the chat widget.
package chat

import (
	_ "embed"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xhad/mindease/pkg/errs"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Catalog is the fixed set of prompt lists and emotion responses.
type Catalog struct {
	Categories map[string][]string `yaml:"categories" json:"categories"`
	Emotions   map[string][]string `yaml:"emotions" json:"emotions"`

	mu  sync.Mutex
	rnd *rand.Rand
}

// DefaultCatalog parses the built-in prompt lists.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPrompts)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	for name, list := range c.Categories {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: prompt category %q is empty", errs.ErrInvalidInput, name)
		}
	}
	for name, list := range c.Emotions {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: emotion %q has no responses", errs.ErrInvalidInput, name)
		}
	}
	c.rnd = rand.New(rand.NewSource(rand.Int63()))
	return &c, nil
}

// Seed makes Random and Respond repeatable.
func (c *Catalog) Seed(seed int64) {
	c.mu.Lock()
	c.rnd = rand.New(rand.NewSource(seed))
	c.mu.Unlock()
}

// CategoryNames returns the prompt categories in sorted order.
func (c *Catalog) CategoryNames() []string {
	return sortedKeys(c.Categories)
}

func (c *Catalog) EmotionNames() []string {
	return sortedKeys(c.Emotions)
}

// Random picks one prompt from category.
func (c *Catalog) Random(category string) (string, error) {
	list, ok := c.Categories[category]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt category %q", errs.ErrInvalidInput, category)
	}
	return c.pick(list), nil
}

// Respond picks one canned response for emotion.
func (c *Catalog) Respond(emotion string) (string, error) {
	list, ok := c.Emotions[emotion]
	if !ok {
		return "", fmt.Errorf("%w: unknown emotion %q", errs.ErrInvalidInput, emotion)
	}
	return c.pick(list), nil
}

func (c *Catalog) pick(list []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return list[c.rnd.Intn(len(list))]
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
