package mesh

import (
	"fmt"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// UnknownNodeID is rendered for the broadcast sentinel inside route lists,
// where it marks a hop the firmware could not identify.
const UnknownNodeID = "unknown"

// FormatNodeID renders a node number as "!xxxxxxxx". 0xFFFFFFFF renders as
// UnknownNodeID.
func FormatNodeID(num uint32) string {
	if num == radio.BroadcastNum {
		return UnknownNodeID
	}
	return fmt.Sprintf("!%08x", num)
}

func formatNodeIDs(nums []uint32) []string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = FormatNodeID(n)
	}
	return out
}

// packetFromID prefers the driver's string id and falls back to the number.
func packetFromID(pkt radio.Packet) string {
	if pkt.FromID != "" {
		return pkt.FromID
	}
	return FormatNodeID(pkt.From)
}

func packetToID(pkt radio.Packet) string {
	if pkt.ToID != "" {
		return pkt.ToID
	}
	return radio.NodeID(pkt.To)
}

// IsBroadcast reports whether a destination addresses the whole channel. A
// missing id counts as broadcast.
func IsBroadcast(toID string, to uint32) bool {
	switch toID {
	case "", radio.BroadcastID, "!ffffffff":
		return true
	}
	return to == radio.BroadcastNum
}
