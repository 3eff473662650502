package annotation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultScale is the marker scale given to new annotations.
const DefaultScale float32 = 1

// Annotation is a text marker attached to an instant of a video.
// Presentation state (visible, seen) is deliberately absent: it is derived by
// the dispatcher and the playback state machine.
type Annotation struct {
	ID        string    `json:"id" yaml:"id"`
	VideoID   string    `json:"video_id" yaml:"video_id"`
	TimeMs    uint64    `json:"time_ms" yaml:"time_ms"`
	Text      string    `json:"text" yaml:"text"`
	X         float32   `json:"x" yaml:"x"` // normalized 0..1
	Y         float32   `json:"y" yaml:"y"` // normalized 0..1
	CreatorID string    `json:"creator_id" yaml:"creator_id"`
	Scale     float32   `json:"scale" yaml:"scale"`
	Alive     bool      `json:"alive" yaml:"alive"` // false once soft-deleted
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid annotation")

// New returns a live annotation with a fresh ID.
func New(videoID string, timeMs uint64, text string, x, y float32, creatorID string) Annotation {
	now := time.Now().UTC()
	return Annotation{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		TimeMs:    timeMs,
		Text:      text,
		X:         x,
		Y:         y,
		CreatorID: creatorID,
		Scale:     DefaultScale,
		Alive:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields a store relies on.
func (a Annotation) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalid)
	case a.VideoID == "":
		return fmt.Errorf("%w: missing video id", ErrInvalid)
	case strings.TrimSpace(a.Text) == "":
		return fmt.Errorf("%w: empty text", ErrInvalid)
	case a.X < 0 || a.X > 1 || a.Y < 0 || a.Y > 1:
		return fmt.Errorf("%w: position (%.3f, %.3f) outside 0..1", ErrInvalid, a.X, a.Y)
	case a.Scale <= 0:
		return fmt.Errorf("%w: scale must be positive", ErrInvalid)
	}
	return nil
}

// Clamp limits a normalized coordinate to 0..1.
func Clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sort orders annotations by TimeMs, breaking ties by ID so that order is
// stable across loads.
func Sort(list []Annotation) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TimeMs != list[j].TimeMs {
			return list[i].TimeMs < list[j].TimeMs
		}
		return list[i].ID < list[j].ID
	})
}

// Equal reports whether two lists hold the same annotations in the same order.
func Equal(a, b []Annotation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.VideoID != y.VideoID || x.TimeMs != y.TimeMs ||
			x.Text != y.Text || x.X != y.X || x.Y != y.Y ||
			x.CreatorID != y.CreatorID || x.Scale != y.Scale || x.Alive != y.Alive ||
			!x.CreatedAt.Equal(y.CreatedAt) || !x.UpdatedAt.Equal(y.UpdatedAt) {
			return false
		}
	}
	return true
}

// FormatTime renders a millisecond offset as m:ss.mmm.
func FormatTime(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	m := int(d / time.Minute)
	s := int(d % time.Minute / time.Second)
	rest := int(d % time.Second / time.Millisecond)
	return fmt.Sprintf("%d:%02d.%03d", m, s, rest)
}

// ParseTime reads an offset written as m:ss or m:ss.mmm, or as a Go
// duration such as 90s.
func ParseTime(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	mins, secs, ok := strings.Cut(s, ":")
	if !ok {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		return uint64(d.Milliseconds()), nil
	}
	whole, frac, _ := strings.Cut(secs, ".")
	m, err := strconv.ParseUint(mins, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	sec, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || len(whole) != 2 || sec >= 60 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	var ms uint64
	if frac != "" {
		if len(frac) > 3 {
			return 0, fmt.Errorf("invalid time %q: at most millisecond precision", s)
		}
		ms, err = strconv.ParseUint(frac+strings.Repeat("0", 3-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", s)
		}
	}
	return m*60_000 + sec*1000 + ms, nil
}
