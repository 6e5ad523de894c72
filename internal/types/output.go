package types

import (
	"encoding/json"
	"fmt"
)

type OutputState string

const (
	StatePending OutputState = "pending"
	StateReady   OutputState = "ready"
	StateFailed  OutputState = "failed"
)

// OutputStatus is one of Pending, Ready or Failed.
type OutputStatus interface {
	outputState() OutputState
}

type Pending struct{}

type Ready struct {
	MediaRef     string  `json:"media_ref"`
	CaptionRef   string  `json:"caption_ref,omitempty"`
	ThumbnailRef string  `json:"thumbnail_ref,omitempty"`
	Bytes        int64   `json:"bytes"`
	DurationSec  float64 `json:"duration_sec"`
}

type Failed struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (Pending) outputState() OutputState { return StatePending }
func (Ready) outputState() OutputState   { return StateReady }
func (Failed) outputState() OutputState  { return StateFailed }

// RenderedOutput is one (selected chunk x aspect ratio) result.
type RenderedOutput struct {
	Index         int
	Chunk         Chunk
	AspectRatio   string
	Title         string
	ThumbnailText string
	Status        OutputStatus
}

func (o RenderedOutput) State() OutputState {
	if o.Status == nil {
		return StatePending
	}
	return o.Status.outputState()
}

// Terminal reports whether the output reached Ready or Failed.
func (o RenderedOutput) Terminal() bool {
	return o.State() != StatePending
}

func (o RenderedOutput) MarshalJSON() ([]byte, error) {
	type wire struct {
		Index         int         `json:"index"`
		Chunk         Chunk       `json:"chunk"`
		AspectRatio   string      `json:"aspect_ratio"`
		Title         string      `json:"title,omitempty"`
		ThumbnailText string      `json:"thumbnail_text,omitempty"`
		State         OutputState `json:"state"`
		*Ready
		Failure *Failed `json:"failure,omitempty"`
	}
	w := wire{
		Index:         o.Index,
		Chunk:         o.Chunk,
		AspectRatio:   o.AspectRatio,
		Title:         o.Title,
		ThumbnailText: o.ThumbnailText,
		State:         o.State(),
	}
	switch s := o.Status.(type) {
	case nil, Pending:
	case Ready:
		w.Ready = &s
	case Failed:
		w.Failure = &s
	default:
		return nil, fmt.Errorf("unknown output status %T", s)
	}
	return json.Marshal(w)
}
