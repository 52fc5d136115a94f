package vault

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

// sentinel delimits the front-matter block from the body.
const sentinel = "---"

// Encode renders an entity to its on-disk form: a YAML front-matter block
// between sentinel lines, followed by the body. Metadata keys are emitted
// sorted so that Encode is deterministic and Decode(Encode(e)) round-trips
// byte-identically.
func Encode(e *Entity) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	appendScalar(doc, "id", e.ID)
	appendScalar(doc, "type", string(e.Type))
	appendScalar(doc, "created_ts", e.CreatedTS.Format(time.RFC3339Nano))
	appendScalar(doc, "updated_ts", e.UpdatedTS.Format(time.RFC3339Nano))
	if e.DoneTS != nil {
		appendScalar(doc, "done_ts", e.DoneTS.Format(time.RFC3339Nano))
	}

	meta, err := valueNode(e.Metadata)
	if err != nil {
		return nil, err
	}
	doc.Content = append(doc.Content, keyNode("metadata"), meta)

	block, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString(sentinel + "\n")
	b.Write(block)
	b.WriteString(sentinel + "\n")
	b.WriteString(e.Content)
	return []byte(b.String()), nil
}

// Decode parses the on-disk form back into an Entity. It is symmetric with
// Encode: for any entity e, Decode(Encode(e)) equals e.
func Decode(data []byte) (*Entity, error) {
	text := string(data)
	if !strings.HasPrefix(text, sentinel+"\n") {
		return nil, kerrors.Validation("entity file missing front-matter block")
	}
	rest := text[len(sentinel)+1:]
	end := strings.Index(rest, "\n"+sentinel+"\n")
	if end < 0 {
		return nil, kerrors.Validation("entity file missing closing front-matter sentinel")
	}
	block := rest[:end+1]
	body := rest[end+len(sentinel)+2:]

	var fm struct {
		ID        string         `yaml:"id"`
		Type      string         `yaml:"type"`
		CreatedTS string         `yaml:"created_ts"`
		UpdatedTS string         `yaml:"updated_ts"`
		DoneTS    string         `yaml:"done_ts"`
		Metadata  map[string]any `yaml:"metadata"`
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, err, "parse front matter")
	}
	if fm.ID == "" {
		return nil, kerrors.Validation("entity front matter missing id")
	}
	t := Type(fm.Type)
	if !ValidType(t) {
		return nil, kerrors.Validation("entity %s has unknown type %q", fm.ID, fm.Type)
	}

	created, err := time.Parse(time.RFC3339Nano, fm.CreatedTS)
	if err != nil {
		return nil, kerrors.Validation("entity %s: bad created_ts %q", fm.ID, fm.CreatedTS)
	}
	updated, err := time.Parse(time.RFC3339Nano, fm.UpdatedTS)
	if err != nil {
		return nil, kerrors.Validation("entity %s: bad updated_ts %q", fm.ID, fm.UpdatedTS)
	}

	e := &Entity{
		ID:        fm.ID,
		Type:      t,
		Metadata:  fm.Metadata,
		Content:   body,
		CreatedTS: created,
		UpdatedTS: updated,
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if fm.DoneTS != "" {
		done, err := time.Parse(time.RFC3339Nano, fm.DoneTS)
		if err != nil {
			return nil, kerrors.Validation("entity %s: bad done_ts %q", fm.ID, fm.DoneTS)
		}
		e.DoneTS = &done
	}
	return e, nil
}

// keyNode builds a scalar key node.
func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: key}
}

func appendScalar(m *yaml.Node, key, value string) {
	m.Content = append(m.Content,
		keyNode(key),
		&yaml.Node{Kind: yaml.ScalarNode, Value: value})
}

// valueNode converts a metadata value into a YAML node. Maps are emitted
// with sorted keys at every nesting level; list order is preserved.
func valueNode(v any) (*yaml.Node, error) {
	switch tv := v.(type) {
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode}
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := valueNode(tv[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, keyNode(k), child)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range tv {
			child, err := valueNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, child)
		}
		return n, nil
	default:
		n := &yaml.Node{}
		if err := n.Encode(v); err != nil {
			return nil, fmt.Errorf("encode metadata value %v: %w", v, err)
		}
		return n, nil
	}
}
