package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned by any read that would run past the end of the
// buffer. Once it's returned the remainder of the buffer is unusable.
var ErrTruncated = errors.New("packet buffer truncated")

// Reader is a cursor over an immutable byte buffer. Every read consumes
// exactly the bytes it decodes and advances the cursor; reading past the end
// of the buffer fails with ErrTruncated rather than zero-filling.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// ReadBytes consumes and returns the next n bytes. The returned slice aliases
// the underlying buffer and must not be modified.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Skip advances the cursor by n bytes without decoding them.
func (r *Reader) Skip(n int) error {
	_, err := r.ReadBytes(n)
	return err
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat16() (float32, error) {
	bits, err := r.ReadUint16()
	if err != nil {
		return 0, err
	}
	return float16FromBits(bits), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	bits, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	bits, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// ReadUleb128 decodes a variable-length unsigned integer: 7 data bits per
// byte, high bit set on every byte except the last.
func (r *Reader) ReadUleb128() (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
}

// ReadString decodes a length-prefixed string: a presence byte (0x0b for
// present, anything else for absent), then a ULEB128 byte length and that
// many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	present, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	if present != stringPresent {
		return "", nil
	}

	length, err := r.ReadUleb128()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadInt32ListInt16Length decodes an int32 list prefixed by a uint16 count.
func (r *Reader) ReadInt32ListInt16Length() ([]int32, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	return r.readInt32List(int(count))
}

// ReadInt32ListInt32Length decodes an int32 list prefixed by an int32 count.
func (r *Reader) ReadInt32ListInt32Length() ([]int32, error) {
	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	return r.readInt32List(int(count))
}

func (r *Reader) readInt32List(count int) ([]int32, error) {
	if count < 0 || r.Remaining() < count*4 {
		return nil, ErrTruncated
	}
	list := make([]int32, count)
	for i := range list {
		list[i], _ = r.ReadInt32()
	}
	return list, nil
}

// ReadMessage decodes a chat message payload.
func (r *Reader) ReadMessage() (Message, error) {
	var m Message
	var err error
	if m.Sender, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Text, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Recipient, err = r.ReadString(); err != nil {
		return m, err
	}
	m.SenderID, err = r.ReadInt32()
	return m, err
}

// ReadChannel decodes a channel descriptor payload.
func (r *Reader) ReadChannel() (Channel, error) {
	var c Channel
	var err error
	if c.Name, err = r.ReadString(); err != nil {
		return c, err
	}
	if c.Topic, err = r.ReadString(); err != nil {
		return c, err
	}
	c.Players, err = r.ReadInt32()
	return c, err
}

// ReadMatch decodes a multiplayer match descriptor. Slot ids are only present
// for occupied slots and per-slot mods only when freemod is enabled.
func (r *Reader) ReadMatch() (MultiplayerMatch, error) {
	var m MultiplayerMatch
	var err error

	if m.ID, err = r.ReadInt16(); err != nil {
		return m, err
	}
	inProgress, err := r.ReadInt8()
	if err != nil {
		return m, err
	}
	m.InProgress = inProgress == 1
	if m.Powerplay, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.Mods, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Password, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.MapName, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.MapID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.MapMD5, err = r.ReadString(); err != nil {
		return m, err
	}

	for i := range m.SlotStatuses {
		if m.SlotStatuses[i], err = r.ReadUint8(); err != nil {
			return m, err
		}
	}
	for i := range m.SlotTeams {
		if m.SlotTeams[i], err = r.ReadUint8(); err != nil {
			return m, err
		}
	}
	for _, status := range m.SlotStatuses {
		if !slotHasPlayer(status) {
			continue
		}
		id, err := r.ReadInt32()
		if err != nil {
			return m, err
		}
		m.SlotIDs = append(m.SlotIDs, id)
	}

	if m.HostID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.Mode, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.WinCondition, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.TeamType, err = r.ReadUint8(); err != nil {
		return m, err
	}
	freemod, err := r.ReadInt8()
	if err != nil {
		return m, err
	}
	m.Freemod = freemod == 1
	if m.Freemod {
		m.SlotMods = make([]int32, 16)
		for i := range m.SlotMods {
			if m.SlotMods[i], err = r.ReadInt32(); err != nil {
				return m, err
			}
		}
	}

	m.Seed, err = r.ReadInt32()
	return m, err
}

// ReadScoreFrame decodes the 29 byte packed score snapshot plus the optional
// score-v2 trailer.
func (r *Reader) ReadScoreFrame() (ScoreFrame, error) {
	var f ScoreFrame
	var err error

	if f.Time, err = r.ReadInt32(); err != nil {
		return f, err
	}
	if f.ID, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.Count300, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.Count100, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.Count50, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountGeki, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountKatu, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountMiss, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.TotalScore, err = r.ReadInt32(); err != nil {
		return f, err
	}
	if f.CurrentCombo, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.MaxCombo, err = r.ReadUint16(); err != nil {
		return f, err
	}
	perfect, err := r.ReadUint8()
	if err != nil {
		return f, err
	}
	f.Perfect = perfect != 0
	if f.CurrentHP, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.TagByte, err = r.ReadUint8(); err != nil {
		return f, err
	}
	scoreV2, err := r.ReadUint8()
	if err != nil {
		return f, err
	}
	f.ScoreV2 = scoreV2 != 0

	if f.ScoreV2 {
		if f.ComboPortion, err = r.ReadFloat64(); err != nil {
			return f, err
		}
		if f.BonusPortion, err = r.ReadFloat64(); err != nil {
			return f, err
		}
	}

	return f, nil
}

// ReadReplayFrame decodes a single fixed-size replay input frame.
func (r *Reader) ReadReplayFrame() (ReplayFrame, error) {
	var f ReplayFrame
	var err error
	if f.ButtonState, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.TaikoByte, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.X, err = r.ReadFloat32(); err != nil {
		return f, err
	}
	if f.Y, err = r.ReadFloat32(); err != nil {
		return f, err
	}
	f.Time, err = r.ReadInt32()
	return f, err
}

// ReadReplayFrameBundle decodes a batch of replay frames. The bundle keeps the
// raw payload bytes so spectate relays can pass them along untouched.
func (r *Reader) ReadReplayFrameBundle() (ReplayFrameBundle, error) {
	var b ReplayFrameBundle
	var err error

	b.Raw = r.buf[r.off:]

	if b.Extra, err = r.ReadInt32(); err != nil {
		return b, err
	}
	frameCount, err := r.ReadUint16()
	if err != nil {
		return b, err
	}
	b.Frames = make([]ReplayFrame, 0, frameCount)
	for i := 0; i < int(frameCount); i++ {
		frame, err := r.ReadReplayFrame()
		if err != nil {
			return b, err
		}
		b.Frames = append(b.Frames, frame)
	}
	action, err := r.ReadUint8()
	if err != nil {
		return b, err
	}
	b.Action = ReplayAction(action)
	if b.ScoreFrame, err = r.ReadScoreFrame(); err != nil {
		return b, err
	}
	b.Sequence, err = r.ReadUint16()
	return b, err
}

// ClientPacket is one decoded packet envelope: its type id and a cursor
// bounded to exactly the packet's payload bytes.
type ClientPacket struct {
	ID      ClientPacketID
	Payload *Reader
}

// PacketStream decodes a request body into a sequence of client packets.
// Packets whose type is not recognized by the handler registry are skipped;
// the stream ends when too few bytes remain for another header.
type PacketStream struct {
	r     *Reader
	known func(ClientPacketID) bool
}

func NewPacketStream(body []byte, known func(ClientPacketID) bool) *PacketStream {
	return &PacketStream{r: NewReader(body), known: known}
}

// Next returns the next recognized packet, or nil when the stream is
// exhausted. A malformed buffer fails the whole stream; no partial packet is
// ever surfaced.
func (s *PacketStream) Next() (*ClientPacket, error) {
	for s.r.Remaining() >= headerLength {
		id, _ := s.r.ReadUint16()
		_ = s.r.Skip(1) // header padding byte
		length, _ := s.r.ReadUint32()

		if !s.known(ClientPacketID(id)) {
			if err := s.r.Skip(int(length)); err != nil {
				return nil, fmt.Errorf("skipping packet %d: %w", id, err)
			}
			continue
		}

		payload, err := s.r.ReadBytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("reading packet %d payload: %w", id, err)
		}
		return &ClientPacket{ID: ClientPacketID(id), Payload: NewReader(payload)}, nil
	}
	return nil, nil
}

// float16FromBits expands an IEEE 754 half-precision value to float32.
func float16FromBits(bits uint16) float32 {
	sign := float32(1)
	if bits&0x8000 != 0 {
		sign = -1
	}
	exp := int(bits>>10) & 0x1f
	frac := bits & 0x3ff

	switch exp {
	case 0:
		// Subnormal: frac * 2^-24.
		return sign * float32(frac) * float32(math.Pow(2, -24))
	case 0x1f:
		if frac == 0 {
			return sign * float32(math.Inf(1))
		}
		return float32(math.NaN())
	}
	return sign * float32(math.Pow(2, float64(exp-25))) * float32(1024+frac)
}
