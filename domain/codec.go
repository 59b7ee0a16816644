package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// New returns an empty resource of the given kind.
func New(kind Kind) (Resource, error) {
	switch kind {
	case KindTask:
		return &Task{}, nil
	case KindProject:
		return &Project{}, nil
	case KindNotification:
		return &Notification{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Decode parses the canonical JSON representation of a resource.
func Decode(kind Kind, data []byte) (Resource, error) {
	r, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := sonic.ConfigStd.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return r, nil
}

// DecodeList parses a JSON array of resources of one kind.
func DecodeList(kind Kind, data []byte) ([]Resource, error) {
	var raw []sonic.NoCopyRawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind, err)
	}
	out := make([]Resource, 0, len(raw))
	for _, item := range raw {
		r, err := Decode(kind, item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
