package types

type Transcript struct {
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Empty reports whether the transcript carries no usable speech.
func (t Transcript) Empty() bool {
	for _, s := range t.Segments {
		if s.End > s.Start {
			return false
		}
	}
	return true
}

// SourceMedia is the probed view of one input asset.
type SourceMedia struct {
	Location    string  `json:"location"`
	DurationSec float64 `json:"duration_sec"`
	FrameRate   float64 `json:"frame_rate"`
	HasAudio    bool    `json:"has_audio"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
}

type BoundaryKind string

const (
	BoundarySceneCut     BoundaryKind = "scene-cut"
	BoundarySilenceStart BoundaryKind = "silence-start"
	BoundarySilenceEnd   BoundaryKind = "silence-end"
)

type BoundaryCandidate struct {
	TimestampSec float64      `json:"timestamp_sec"`
	Kind         BoundaryKind `json:"kind"`
}

// SilenceInterval is one silencedetect span.
type SilenceInterval struct {
	StartSec float64
	EndSec   float64
}

// Chunk is a candidate segment of the source considered for selection.
type Chunk struct {
	ID       int     `json:"id"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text,omitempty"`
	Words    []Word  `json:"-"`
}

func (c Chunk) DurationSec() float64 { return c.EndSec - c.StartSec }

type SubScores struct {
	Salience  float64 `json:"salience"`
	Alignment float64 `json:"alignment"`
	Pacing    float64 `json:"pacing"`
}

type ScoredChunk struct {
	Chunk
	Score     float64   `json:"score"`
	SubScores SubScores `json:"sub_scores"`
	// Rank is 1-based after reranking; 0 means not selected.
	Rank int    `json:"rank"`
	Hook string `json:"hook,omitempty"`
}

// RenderRequest describes one encode of a chunk into one frame shape.
type RenderRequest struct {
	Input         string
	StartSec      float64
	EndSec        float64
	Width         int
	Height        int
	SubtitlesPath string
	HasAudio      bool
	Output        string
}
