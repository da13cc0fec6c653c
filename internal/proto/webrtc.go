package proto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

var (
	ErrMissingDescription = errors.New("session description is required")
	ErrMissingCandidate   = errors.New("candidate is required")
)

// ValidateDescription checks that desc has the wanted type and a parseable SDP
// with at least one media section.
func ValidateDescription(desc *webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc == nil || desc.SDP == "" {
		return ErrMissingDescription
	}
	if desc.Type != want {
		return fmt.Errorf("expected %s description, got %s", want, desc.Type)
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return errors.New("sdp has no media sections")
	}
	return nil
}

// MediaKinds lists the media types announced in desc, in m-line order.
func MediaKinds(desc *webrtc.SessionDescription) ([]string, error) {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}
	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, m := range parsed.MediaDescriptions {
		kinds = append(kinds, m.MediaName.Media)
	}
	return kinds, nil
}

// ValidateCandidate checks a trickle candidate. An empty candidate string is the
// end-of-candidates marker and is accepted.
func ValidateCandidate(c *webrtc.ICECandidateInit) error {
	if c == nil {
		return ErrMissingCandidate
	}
	if c.Candidate == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(c.Candidate, "candidate:")); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return nil
}
