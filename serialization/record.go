// Package serialization implements the binary wire format for persisted
// dead-letter records. Records are length-prefixed and self-checking so
// that insertion order is recoverable after a reboot without auxiliary
// indices; a record that fails its checksum is reported as corrupt and
// skipped by the reader.
package serialization

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
)

const (
	// RecordMagic identifies the dead-letter record format.
	RecordMagic = uint32(0x444C5231) // "DLR1"

	// recordHeaderSize:
	// [4 magic][1 version][1 class][1 reason][4 attempt]
	// [8 id][8 event_ts_ns][8 send_ts_ns][2 topic_len][4 payload_len]
	recordHeaderSize = 41

	// checksumSize is the trailing CRC32 per record.
	checksumSize = 4

	recordVersion = 1
)

// MaxPayloadLen bounds the payload a single record may carry.
const MaxPayloadLen = 64 * 1024

// EncodeRecord serializes a dead-letter entry to its binary record form.
func EncodeRecord(entry contracts.DeadLetterEntry) ([]byte, error) {
	msg := entry.Message
	if len(msg.Topic) > contracts.MaxTopicLen {
		return nil, contracts.ErrTopicTooLong
	}
	if len(msg.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("payload length %d exceeds limit %d", len(msg.Payload), MaxPayloadLen)
	}

	size := recordHeaderSize + len(msg.Topic) + len(msg.Payload) + checksumSize
	buf := make([]byte, size)

	binary.BigEndian.PutUint32(buf[0:4], RecordMagic)
	buf[4] = recordVersion
	buf[5] = byte(msg.Class)
	buf[6] = byte(entry.Reason)
	binary.BigEndian.PutUint32(buf[7:11], uint32(msg.AttemptCount))
	binary.BigEndian.PutUint64(buf[11:19], msg.ID)
	binary.BigEndian.PutUint64(buf[19:27], uint64(msg.EventTimestamp.UnixNano()))
	var sendNanos uint64
	if !msg.SendTimestamp.IsZero() {
		sendNanos = uint64(msg.SendTimestamp.UnixNano())
	}
	binary.BigEndian.PutUint64(buf[27:35], sendNanos)
	binary.BigEndian.PutUint16(buf[35:37], uint16(len(msg.Topic)))
	binary.BigEndian.PutUint32(buf[37:41], uint32(len(msg.Payload)))

	off := recordHeaderSize
	copy(buf[off:], msg.Topic)
	off += len(msg.Topic)
	copy(buf[off:], msg.Payload)
	off += len(msg.Payload)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], crc)
	return buf, nil
}

// DecodeRecord parses a binary record back into a dead-letter entry.
// Any structural or checksum mismatch is reported as ErrStorageCorruption
// so that callers can skip the record and advance the queue head.
func DecodeRecord(buf []byte) (contracts.DeadLetterEntry, error) {
	var entry contracts.DeadLetterEntry

	if len(buf) < recordHeaderSize+checksumSize {
		return entry, fmt.Errorf("%w: record truncated (%d bytes)", contracts.ErrStorageCorruption, len(buf))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != RecordMagic {
		return entry, fmt.Errorf("%w: bad magic", contracts.ErrStorageCorruption)
	}
	if buf[4] != recordVersion {
		return entry, fmt.Errorf("%w: unsupported version %d", contracts.ErrStorageCorruption, buf[4])
	}

	topicLen := int(binary.BigEndian.Uint16(buf[35:37]))
	payloadLen := int(binary.BigEndian.Uint32(buf[37:41]))
	want := recordHeaderSize + topicLen + payloadLen + checksumSize
	if payloadLen > MaxPayloadLen || len(buf) != want {
		return entry, fmt.Errorf("%w: length mismatch (have %d, want %d)", contracts.ErrStorageCorruption, len(buf), want)
	}

	body := len(buf) - checksumSize
	if crc32.ChecksumIEEE(buf[:body]) != binary.BigEndian.Uint32(buf[body:]) {
		return entry, fmt.Errorf("%w: checksum mismatch", contracts.ErrStorageCorruption)
	}

	class := contracts.DeliveryClass(buf[5])
	if !class.Valid() {
		return entry, fmt.Errorf("%w: unknown delivery class %d", contracts.ErrStorageCorruption, buf[5])
	}

	msg := contracts.Message{
		ID:             binary.BigEndian.Uint64(buf[11:19]),
		Class:          class,
		AttemptCount:   int(binary.BigEndian.Uint32(buf[7:11])),
		EventTimestamp: time.Unix(0, int64(binary.BigEndian.Uint64(buf[19:27]))).UTC(),
	}
	if sendNanos := binary.BigEndian.Uint64(buf[27:35]); sendNanos != 0 {
		msg.SendTimestamp = time.Unix(0, int64(sendNanos)).UTC()
	}

	off := recordHeaderSize
	msg.Topic = string(buf[off : off+topicLen])
	off += topicLen
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, buf[off:off+payloadLen])

	entry.Message = msg
	entry.Reason = contracts.Reason(buf[6])
	return entry, nil
}
