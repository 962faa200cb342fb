package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// --- Regex patterns (compiled once) ---

var reMeshtasticNode = regexp.MustCompile(`^![0-9a-fA-F]{1,8}$`)

var errInvalidDestination = errors.New("destination must be a node id (!HEXHEX)")

// --- Meshtastic limits ---

const (
	maxTextBytes   = 233 // firmware Data payload limit
	maxChannel     = 7
	maxHopLimit    = 7
	maxScanSeconds = 60
)

// validateMeshtasticText validates a Meshtastic message.
func validateMeshtasticText(text string) error {
	if text == "" {
		return fmt.Errorf("message text is required")
	}
	if len(text) > maxTextBytes {
		return fmt.Errorf("message too long (max %d bytes)", maxTextBytes)
	}
	return nil
}

// validateMeshtasticNodeID validates a destination node ID (e.g., "!a1b2c3d4").
// Empty and "^all" address the channel broadcast.
func validateMeshtasticNodeID(id string) error {
	if id == "" || id == radio.BroadcastID {
		return nil
	}
	if !reMeshtasticNode.MatchString(id) {
		return fmt.Errorf("invalid Meshtastic node ID (expected !HEXHEX)")
	}
	return nil
}

// validateChannel validates a channel index.
func validateChannel(ch int) error {
	if ch < 0 || ch > maxChannel {
		return fmt.Errorf("channel must be between 0 and %d", maxChannel)
	}
	return nil
}

// validateHopLimit validates a hop limit; 0 selects the firmware default.
func validateHopLimit(hops int) error {
	if hops < 0 || hops > maxHopLimit {
		return fmt.Errorf("hop_limit must be between 0 and %d", maxHopLimit)
	}
	return nil
}

// scanTimeout parses the ?timeout= seconds parameter of a scan.
func scanTimeout(r *http.Request) (time.Duration, error) {
	secs, err := queryInt(r, "timeout", 0, 0, maxScanSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// --- Body size limiter ---

// limitBody wraps the request body with http.MaxBytesReader to prevent oversized payloads.
// Returns the modified request (use: r = limitBody(r, 1<<20)).
func limitBody(r *http.Request, maxBytes int64) *http.Request {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	return r
}
