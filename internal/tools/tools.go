// Package tools defines the UI actions the model may request alongside a reply.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/storytime/internal/domain"
)

// Tool names as declared to the provider.
const (
	NameCelebrate = "celebrate_achievement"
	NameHighlight = "highlight_image_part"
)

var (
	// ErrUnknownTool is returned for a tool name outside the declared set.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when arguments fail validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Animation is the celebration effect requested by the model.
type Animation string

const (
	AnimationConfetti Animation = "confetti"
	AnimationStars    Animation = "stars"
	AnimationBounce   Animation = "bounce"
)

// Animations lists the accepted animation values.
var Animations = []Animation{AnimationConfetti, AnimationStars, AnimationBounce}

func (a Animation) valid() bool {
	for _, v := range Animations {
		if a == v {
			return true
		}
	}
	return false
}

// Invocation is a validated tool request. The set of implementations is closed:
// Celebration and Highlight.
type Invocation interface {
	ToolName() string
	invocation()
}

// Celebration asks the renderer to play an animation with a message.
type Celebration struct {
	Message   string    `json:"message"`
	Animation Animation `json:"animation"`
}

// ToolName implements Invocation.
func (Celebration) ToolName() string { return NameCelebrate }
func (Celebration) invocation()      {}

// Highlight asks the renderer to draw attention to part of the image.
type Highlight struct {
	Region string `json:"region"`
}

// ToolName implements Invocation.
func (Highlight) ToolName() string { return NameHighlight }
func (Highlight) invocation()      {}

// Parse decodes and validates the arguments of a named tool.
func Parse(name, arguments string) (Invocation, error) {
	raw := strings.TrimSpace(arguments)
	if raw == "" {
		raw = "{}"
	}

	switch name {
	case NameCelebrate:
		var c Celebration
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		c.Message = strings.TrimSpace(c.Message)
		c.Animation = Animation(strings.ToLower(strings.TrimSpace(string(c.Animation))))
		if c.Message == "" {
			return nil, fmt.Errorf("%w: %s: message is required", ErrInvalidArguments, name)
		}
		if !c.Animation.valid() {
			return nil, fmt.Errorf("%w: %s: animation %q", ErrInvalidArguments, name, c.Animation)
		}
		return c, nil
	case NameHighlight:
		var h Highlight
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		h.Region = strings.TrimSpace(h.Region)
		if h.Region == "" {
			return nil, fmt.Errorf("%w: %s: region is required", ErrInvalidArguments, name)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// FromCall parses a tool call carried on an assistant message.
func FromCall(call domain.ToolCall) (Invocation, error) {
	return Parse(call.Function.Name, call.Function.Arguments)
}
