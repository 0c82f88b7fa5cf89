// Package session turns chain snapshots into chat sessions and gates the one
// write a user can make, sending a paid message. Everything here is a pure
// function of its inputs.
package session

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/domain"
)

// TimestampUnit is the unit of ChainMessage.Timestamp.
type TimestampUnit string

const (
	Milliseconds TimestampUnit = "ms"
	Seconds      TimestampUnit = "s"
)

// Latest representable instant, 9999-12-31T23:59:59Z. Times past it do not
// encode as RFC 3339.
const (
	maxUnixSeconds = 253402300799
	maxUnixMillis  = maxUnixSeconds*1000 + 999
)

// InRange reports whether ts converts to a time with a four digit year.
func (u TimestampUnit) InRange(ts uint64) bool {
	if u == Seconds {
		return ts <= maxUnixSeconds
	}
	return ts <= maxUnixMillis
}

// Time converts a chain timestamp to wall clock time in UTC. Out of range
// timestamps convert to the zero time.
func (u TimestampUnit) Time(ts uint64) time.Time {
	if !u.InRange(ts) {
		return time.Time{}
	}
	if u == Seconds {
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.UnixMilli(int64(ts)).UTC()
}

// Options tune the projection.
type Options struct {
	TimestampUnit TimestampUnit
}

// Warning reports a raw message that was projected but looks malformed.
type Warning struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

const (
	reasonEmptySender    = "empty sender"
	reasonInvalidSender  = "sender is not an address"
	reasonZeroTimestamp  = "zero timestamp"
	reasonTimestampRange = "timestamp out of range"
)

// View is everything the chat presentation needs for one render.
type View struct {
	Messages []domain.SessionMessage `json:"messages"`
	Status   domain.SessionStatus    `json:"status"`
	Warnings []Warning               `json:"warnings,omitempty"`
	Block    uint64                  `json:"block"`
}

type projected struct {
	index  int
	msg    domain.SessionMessage
	reason string
}

// project walks the raw messages in order. Its per-timestamp counters live in
// the closure, so every range over the result starts from scratch.
func project(snap chain.Snapshot, opts Options) iter.Seq[projected] {
	return func(yield func(projected) bool) {
		seen := make(map[uint64]int, len(snap.Messages))
		for i, raw := range snap.Messages {
			seq := seen[raw.Timestamp]
			seen[raw.Timestamp] = seq + 1

			sender, valid := raw.SenderAddress()
			reason := ""
			switch {
			case strings.TrimSpace(raw.Sender) == "":
				reason = reasonEmptySender
			case !valid:
				reason = reasonInvalidSender
			case raw.Timestamp == 0:
				reason = reasonZeroTimestamp
			case !opts.TimestampUnit.InRange(raw.Timestamp):
				reason = reasonTimestampRange
			}

			senderKey := strings.ToLower(strings.TrimSpace(raw.Sender))
			if valid {
				senderKey = strings.ToLower(sender.Hex())
			}
			ts := strconv.FormatUint(raw.Timestamp, 10)
			id := ts
			if seq > 0 {
				id = fmt.Sprintf("%s-%d", ts, seq)
			}

			msg := domain.SessionMessage{
				ID:        id,
				Key:       fmt.Sprintf("%s:%s:%d", senderKey, ts, seq),
				Content:   raw.Content,
				Role:      roleOf(sender, valid, snap.AgentAddress),
				Sender:    raw.Sender,
				Timestamp: opts.TimestampUnit.Time(raw.Timestamp),
			}
			if !yield(projected{index: i, msg: msg, reason: reason}) {
				return
			}
		}
	}
}

func roleOf(sender common.Address, valid bool, agent *common.Address) domain.Role {
	if valid && agent != nil && sender == *agent {
		return domain.RoleAssistant
	}
	return domain.RoleUser
}

// Messages lazily projects the snapshot's raw messages, preserving order.
// Malformed entries are still yielded, attributed to the user.
func Messages(snap chain.Snapshot, opts Options) iter.Seq[domain.SessionMessage] {
	return func(yield func(domain.SessionMessage) bool) {
		for p := range project(snap, opts) {
			if !yield(p.msg) {
				return
			}
		}
	}
}

// Status derives the input state and display strings from a snapshot.
func Status(snap chain.Snapshot) domain.SessionStatus {
	st := domain.SessionStatus{
		Loading:   snap.Loading,
		ReadError: snap.ReadError,
	}
	if snap.Phase != nil {
		st.Phase = *snap.Phase
		st.PhaseKnown = true
	}
	st.InputEnabled = !snap.Loading && st.PhaseKnown && st.Phase.AcceptsUserInput()

	if snap.MessagePrice != nil {
		st.PriceResolved = true
		st.PriceWei = snap.MessagePrice.String()
		st.DisplayPrice = domain.FormatEther(snap.MessagePrice)
	}
	if snap.PrizePool != nil {
		st.PrizePoolResolved = true
		st.PrizePoolWei = snap.PrizePool.String()
		st.DisplayPrizePool = domain.FormatEther(snap.PrizePool)
	}
	return st
}

// Derive projects a full view. It is recomputed from scratch on every call.
func Derive(snap chain.Snapshot, opts Options) View {
	v := View{
		Messages: make([]domain.SessionMessage, 0, len(snap.Messages)),
		Status:   Status(snap),
		Block:    snap.BlockNumber,
	}
	for p := range project(snap, opts) {
		v.Messages = append(v.Messages, p.msg)
		if p.reason != "" {
			v.Warnings = append(v.Warnings, Warning{Index: p.index, Key: p.msg.Key, Reason: p.reason})
		}
	}
	return v
}
