// Package tasks is the durable queue of pending backend operations. Tasks
// are appended when a configuration change cannot reach its backend right
// away, and drained later in insertion order per server.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

type Type string

const (
	TypeAddIndex            Type = "addIndex"
	TypeUpdateIndex         Type = "updateIndex"
	TypeRemoveIndex         Type = "removeIndex"
	TypeDeleteItems         Type = "deleteItems"
	TypeDeleteAllIndexItems Type = "deleteAllIndexItems"
)

// Types lists every task type the queue executes.
var Types = []Type{TypeAddIndex, TypeUpdateIndex, TypeRemoveIndex, TypeDeleteItems, TypeDeleteAllIndexItems}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Task is one queued backend operation. It is never modified after it was
// appended.
type Task struct {
	ID        int64           `json:"id"`
	ServerID  string          `json:"server_id"`
	Type      Type            `json:"type"`
	IndexID   string          `json:"index_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter selects tasks. Empty fields do not constrain.
type Filter struct {
	IDs        []int64
	ServerID   string
	IndexIDs   []string
	ExcludeIDs []int64
}

func (f Filter) Empty() bool {
	return len(f.IDs) == 0 && f.ServerID == "" && len(f.IndexIDs) == 0 && len(f.ExcludeIDs) == 0
}

// encodeData turns an Enqueue payload into the stored form.
func encodeData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		if !json.Valid(d) {
			return nil, fmt.Errorf("%w: task data is not JSON", apperrors.ErrInvalidInput)
		}
		return d, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding task data: %v", apperrors.ErrInvalidInput, err)
	}
	return raw, nil
}

// ErrMalformedTask marks a payload that does not fit its task type. Such a
// task can never succeed.
var ErrMalformedTask = fmt.Errorf("%w: malformed task data", apperrors.ErrInvalidInput)

// validate checks that the payload has the shape the task type needs.
func (t Task) validate() error {
	switch t.Type {
	case TypeDeleteItems:
		_, err := t.ItemIDs()
		return err
	case TypeUpdateIndex:
		_, err := t.PreviousIndex()
		return err
	}
	return nil
}

// ItemIDs decodes the id list of a deleteItems task.
func (t Task) ItemIDs() ([]string, error) {
	if len(t.Data) == 0 || string(t.Data) == "null" {
		return nil, fmt.Errorf("%w: deleteItems without item ids", ErrMalformedTask)
	}
	var ids []string
	if err := json.Unmarshal(t.Data, &ids); err != nil {
		return nil, fmt.Errorf("%w: item ids: %v", ErrMalformedTask, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: deleteItems without item ids", ErrMalformedTask)
	}
	return ids, nil
}

// PreviousIndex decodes the prior index state carried by an updateIndex
// task, or nil when it carries none.
func (t Task) PreviousIndex() (*catalog.Index, error) {
	if len(t.Data) == 0 || string(t.Data) == "null" {
		return nil, nil
	}
	var prev catalog.Index
	if err := json.Unmarshal(t.Data, &prev); err != nil {
		return nil, fmt.Errorf("%w: previous index: %v", ErrMalformedTask, err)
	}
	return &prev, nil
}
