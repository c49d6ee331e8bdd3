package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esiebomaj/commander/internal/storage"
)

// DecodeEvent parses an event envelope {"source_type": ..., "source_id": ...,
// "timestamp": ..., <source fields>} into a context.
func DecodeEvent(raw []byte) (storage.Context, error) {
	var head struct {
		SourceType storage.SourceType `json:"source_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return storage.Context{}, fmt.Errorf("decoding event: %w", err)
	}

	var src Source
	switch head.SourceType {
	case storage.SourceGmail:
		src = &Email{}
	case storage.SourceSlack:
		src = &SlackMessage{}
	case storage.SourceMeeting:
		src = &MeetingTranscript{}
	case storage.SourceCalendar:
		src = &CalendarEvent{}
	default:
		return storage.Context{}, fmt.Errorf("unknown source_type %q", head.SourceType)
	}
	if err := json.Unmarshal(raw, src); err != nil {
		return storage.Context{}, fmt.Errorf("decoding %s event: %w", head.SourceType, err)
	}
	return src.Context()
}

// LoadEvents reads a batch of events from a .json or .yaml file and decodes
// each into a context.
func LoadEvents(path string) ([]storage.Context, error) {
	items, err := ReadEvents(path)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Context, 0, len(items))
	for i, item := range items {
		c, err := DecodeEvent(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadEvents returns the raw JSON envelopes of an event file. The file holds
// a list of envelopes, or an object with an "events" list.
func ReadEvents(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var items []json.RawMessage
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		items, err = yamlItems(data)
	case ".json":
		items, err = jsonItems(data)
	default:
		return nil, fmt.Errorf("unsupported event file %s: want .json, .yaml or .yml", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return items, nil
}

func jsonItems(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	var items []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Events []json.RawMessage `json:"events"`
		}
		err := json.Unmarshal(data, &wrapped)
		return wrapped.Events, err
	}
	err := json.Unmarshal(data, &items)
	return items, err
}

func yamlItems(data []byte) ([]json.RawMessage, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		events, ok := v["events"].([]any)
		if !ok {
			return nil, fmt.Errorf("expected a list of events")
		}
		list = events
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a list of events")
	}

	items := make([]json.RawMessage, 0, len(list))
	for i, e := range list {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		items = append(items, b)
	}
	return items, nil
}
