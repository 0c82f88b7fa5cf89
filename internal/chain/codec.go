package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format selects the snapshot wire encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

var (
	errInvalidAmount  = errors.New("invalid amount")
	errInvalidAddress = errors.New("invalid agent address")
	errAgentRead      = errors.New("agent address read failed")
)

// wireSnapshot mirrors the field names the web client's contract hook uses.
type wireSnapshot struct {
	Messages     []wireMessage `json:"messages" yaml:"messages"`
	PrizePool    *amount       `json:"prizePool,omitempty" yaml:"prizePool,omitempty"`
	MessagePrice *amount       `json:"messagePrice,omitempty" yaml:"messagePrice,omitempty"`
	GameState    *phase        `json:"gameState,omitempty" yaml:"gameState,omitempty"`
	AgentAddress *agentAddress `json:"agentAddress,omitempty" yaml:"agentAddress,omitempty"`
	IsLoading    bool          `json:"isLoading" yaml:"isLoading"`
	IsError      bool          `json:"isError" yaml:"isError"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	BlockNumber  *amount       `json:"blockNumber,omitempty" yaml:"blockNumber,omitempty"`
	ObservedAt   *time.Time    `json:"observedAt,omitempty" yaml:"observedAt,omitempty"`
}

type wireMessage struct {
	Sender    string `json:"sender" yaml:"sender"`
	Content   string `json:"content" yaml:"content"`
	Timestamp amount `json:"timestamp" yaml:"timestamp"`
}

// amount accepts base-10 strings or numbers, 0x hex strings and the
// {"type":"BigNumber","hex":"0x.."} shape ethers serializes to.
type amount struct {
	v *big.Int
}

func (a *amount) set(s string) error {
	s = strings.TrimSpace(s)
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	a.v = v
	return nil
}

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var bn struct {
			Hex string `json:"hex"`
		}
		if err := json.Unmarshal(b, &bn); err != nil {
			return fmt.Errorf("%w: %v", errInvalidAmount, err)
		}
		return a.set(bn.Hex)
	}
	return a.set(strings.Trim(string(b), `"`))
}

func (a amount) MarshalJSON() ([]byte, error) {
	if a.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(a.v.String())
}

func (a *amount) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		var bn struct {
			Hex string `yaml:"hex"`
		}
		if err := n.Decode(&bn); err != nil {
			return fmt.Errorf("%w: %v", errInvalidAmount, err)
		}
		return a.set(bn.Hex)
	}
	return a.set(n.Value)
}

func (a amount) MarshalYAML() (any, error) {
	if a.v == nil {
		return nil, nil
	}
	return a.v.String(), nil
}

func (a amount) uint64() (uint64, error) {
	if a.v == nil {
		return 0, nil
	}
	if !a.v.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows uint64", errInvalidAmount, a.v)
	}
	return a.v.Uint64(), nil
}

func newAmount(v *big.Int) *amount {
	if v == nil {
		return nil
	}
	return &amount{v: new(big.Int).Set(v)}
}

// phase accepts the enum index or the phase name.
type phase struct {
	p domain.GamePhase
}

func (p *phase) UnmarshalJSON(b []byte) error {
	p.p = domain.ParsePhase(strings.Trim(string(bytes.TrimSpace(b)), `"`))
	return nil
}

func (p phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p.p))
}

func (p *phase) UnmarshalYAML(n *yaml.Node) error {
	p.p = domain.ParsePhase(n.Value)
	return nil
}

func (p phase) MarshalYAML() (any, error) {
	return string(p.p), nil
}

// agentAddress accepts a bare hex string or a {data, isLoading, isError}
// envelope and always unwraps to a Read.
type agentAddress struct {
	read Read[common.Address]
}

type addressEnvelope struct {
	Data      *string `json:"data" yaml:"data"`
	IsLoading bool    `json:"isLoading" yaml:"isLoading"`
	IsError   bool    `json:"isError" yaml:"isError"`
	Error     string  `json:"error" yaml:"error"`
}

func (a *agentAddress) fromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		a.read = Read[common.Address]{}
		return nil
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	a.read = Read[common.Address]{Data: &addr}
	return nil
}

func (a *agentAddress) fromEnvelope(env addressEnvelope) error {
	if env.IsError {
		msg := env.Error
		if msg == "" {
			msg = "unknown error"
		}
		a.read = Read[common.Address]{Err: fmt.Errorf("%w: %s", errAgentRead, msg)}
		return nil
	}
	if env.IsLoading || env.Data == nil {
		a.read = Read[common.Address]{Loading: env.IsLoading}
		return nil
	}
	return a.fromString(*env.Data)
}

func (a *agentAddress) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var env addressEnvelope
		if err := json.Unmarshal(b, &env); err != nil {
			return fmt.Errorf("%w: %v", errInvalidAddress, err)
		}
		return a.fromEnvelope(env)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", errInvalidAddress, err)
	}
	return a.fromString(s)
}

func (a agentAddress) MarshalJSON() ([]byte, error) {
	addr, ok := a.read.Unwrap()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(addr.Hex())
}

func (a *agentAddress) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		var env addressEnvelope
		if err := n.Decode(&env); err != nil {
			return fmt.Errorf("%w: %v", errInvalidAddress, err)
		}
		return a.fromEnvelope(env)
	}
	return a.fromString(n.Value)
}

func (a agentAddress) MarshalYAML() (any, error) {
	addr, ok := a.read.Unwrap()
	if !ok {
		return nil, nil
	}
	return addr.Hex(), nil
}

// Decode reads one snapshot in the given format.
func Decode(r io.Reader, f Format) (Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if f == FormatYAML {
		return DecodeYAML(data)
	}
	return DecodeJSON(data)
}

// DecodeJSON parses a JSON snapshot.
func DecodeJSON(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode json snapshot: %w", err)
	}
	return w.snapshot()
}

// DecodeYAML parses a YAML snapshot.
func DecodeYAML(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode yaml snapshot: %w", err)
	}
	return w.snapshot()
}

// EncodeJSON writes the snapshot in the same shape DecodeJSON reads.
func EncodeJSON(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(fromSnapshot(s))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func (w wireSnapshot) snapshot() (Snapshot, error) {
	s := Snapshot{
		Loading:   w.IsLoading,
		ReadError: w.Error,
	}
	if w.IsError && s.ReadError == "" {
		s.ReadError = "chain read failed"
	}

	if len(w.Messages) > 0 {
		s.Messages = make([]domain.ChainMessage, 0, len(w.Messages))
	}
	for i, m := range w.Messages {
		ts, err := m.Timestamp.uint64()
		if err != nil {
			return Snapshot{}, fmt.Errorf("message %d timestamp: %w", i, err)
		}
		s.Messages = append(s.Messages, domain.ChainMessage{
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: ts,
		})
	}

	if w.PrizePool != nil {
		s.PrizePool = w.PrizePool.v
	}
	if w.MessagePrice != nil {
		s.MessagePrice = w.MessagePrice.v
	}
	if w.GameState != nil {
		p := w.GameState.p
		s.Phase = &p
	}
	if w.AgentAddress != nil {
		s.AgentAddress = w.AgentAddress.read.Ptr()
		if err := w.AgentAddress.read.Err; err != nil && s.ReadError == "" {
			s.ReadError = err.Error()
		}
	}
	if w.BlockNumber != nil {
		n, err := w.BlockNumber.uint64()
		if err != nil {
			return Snapshot{}, fmt.Errorf("block number: %w", err)
		}
		s.BlockNumber = n
	}
	if w.ObservedAt != nil {
		s.ObservedAt = *w.ObservedAt
	}
	return s, nil
}

func fromSnapshot(s Snapshot) wireSnapshot {
	w := wireSnapshot{
		Messages:     make([]wireMessage, 0, len(s.Messages)),
		PrizePool:    newAmount(s.PrizePool),
		MessagePrice: newAmount(s.MessagePrice),
		IsLoading:    s.Loading,
		IsError:      s.ReadError != "",
		Error:        s.ReadError,
		BlockNumber:  newAmount(new(big.Int).SetUint64(s.BlockNumber)),
	}
	for _, m := range s.Messages {
		w.Messages = append(w.Messages, wireMessage{
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: amount{v: new(big.Int).SetUint64(m.Timestamp)},
		})
	}
	if s.Phase != nil {
		w.GameState = &phase{p: *s.Phase}
	}
	if s.AgentAddress != nil {
		addr := *s.AgentAddress
		w.AgentAddress = &agentAddress{read: Read[common.Address]{Data: &addr}}
	}
	if !s.ObservedAt.IsZero() {
		t := s.ObservedAt
		w.ObservedAt = &t
	}
	return w
}
