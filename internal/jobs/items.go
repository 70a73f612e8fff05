package jobs

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/enrich/internal/types"
)

// itemsDocument is the object form of an items file.
type itemsDocument struct {
	Items []types.Item `yaml:"items"`
}

// ReadItems decodes items from JSON or YAML. The document is either a list
// of items or an object with an "items" list.
func ReadItems(r io.Reader) ([]types.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("items document is empty")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse items: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("items document is empty")
	}

	var items []types.Item
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		err = node.Content[0].Decode(&items)
	case yaml.MappingNode:
		var doc itemsDocument
		err = node.Content[0].Decode(&doc)
		items = doc.Items
	default:
		return nil, fmt.Errorf("items document must be a list or an object with an items list")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return items, nil
}

// ReadItemsFile reads items from path, or stdin when path is "-".
func ReadItemsFile(path string) ([]types.Item, error) {
	if path == "-" {
		return ReadItems(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadItems(f)
}
