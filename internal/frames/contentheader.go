package frames

import (
	"github.com/relaymq/relaymq/internal/buffer"
	"github.com/relaymq/relaymq/internal/encoding"
)

// Content header property flag bits, high bit first. Fourteen optional
// properties fit in a single 16-bit flag word; bits 1 and 0 are reserved
// (always clear) for a continuation word this profile never needs.
const (
	flagContentType     uint16 = 1 << 15
	flagContentEncoding uint16 = 1 << 14
	flagHeaders         uint16 = 1 << 13
	flagDeliveryMode    uint16 = 1 << 12
	flagPriority        uint16 = 1 << 11
	flagCorrelationID   uint16 = 1 << 10
	flagReplyTo         uint16 = 1 << 9
	flagExpiration      uint16 = 1 << 8
	flagMessageID       uint16 = 1 << 7
	flagTimestamp       uint16 = 1 << 6
	flagType            uint16 = 1 << 5
	flagUserID          uint16 = 1 << 4
	flagAppID           uint16 = 1 << 3
	flagClusterID       uint16 = 1 << 2
)

// ContentHeader carries the basic-class message properties that precede a
// message's body frames. Every property is optional; a nil pointer (or nil
// map, for Headers) means the flag bit is clear on the wire.
type ContentHeader struct {
	ClassID  uint16
	BodySize uint64

	ContentType     *string
	ContentEncoding *string
	Headers         encoding.Table
	DeliveryMode    *uint8
	Priority        *uint8
	CorrelationID   *string
	ReplyTo         *string
	Expiration      *string
	MessageID       *string
	Timestamp       *encoding.Timestamp
	Type            *string
	UserID          *string
	AppID           *string
	ClusterID       *string
}

func encodeContentHeader(wr *buffer.Buffer, h *ContentHeader) {
	wr.AppendUint16(h.ClassID)
	wr.AppendUint16(0) // weight, always 0
	wr.AppendUint64(h.BodySize)

	var flags uint16
	if h.ContentType != nil {
		flags |= flagContentType
	}
	if h.ContentEncoding != nil {
		flags |= flagContentEncoding
	}
	if h.Headers != nil {
		flags |= flagHeaders
	}
	if h.DeliveryMode != nil {
		flags |= flagDeliveryMode
	}
	if h.Priority != nil {
		flags |= flagPriority
	}
	if h.CorrelationID != nil {
		flags |= flagCorrelationID
	}
	if h.ReplyTo != nil {
		flags |= flagReplyTo
	}
	if h.Expiration != nil {
		flags |= flagExpiration
	}
	if h.MessageID != nil {
		flags |= flagMessageID
	}
	if h.Timestamp != nil {
		flags |= flagTimestamp
	}
	if h.Type != nil {
		flags |= flagType
	}
	if h.UserID != nil {
		flags |= flagUserID
	}
	if h.AppID != nil {
		flags |= flagAppID
	}
	if h.ClusterID != nil {
		flags |= flagClusterID
	}
	wr.AppendUint16(flags)

	if h.ContentType != nil {
		_ = encoding.MarshalShortString(wr, *h.ContentType)
	}
	if h.ContentEncoding != nil {
		_ = encoding.MarshalShortString(wr, *h.ContentEncoding)
	}
	if h.Headers != nil {
		_ = encoding.MarshalTable(wr, h.Headers)
	}
	if h.DeliveryMode != nil {
		wr.AppendByte(*h.DeliveryMode)
	}
	if h.Priority != nil {
		wr.AppendByte(*h.Priority)
	}
	if h.CorrelationID != nil {
		_ = encoding.MarshalShortString(wr, *h.CorrelationID)
	}
	if h.ReplyTo != nil {
		_ = encoding.MarshalShortString(wr, *h.ReplyTo)
	}
	if h.Expiration != nil {
		_ = encoding.MarshalShortString(wr, *h.Expiration)
	}
	if h.MessageID != nil {
		_ = encoding.MarshalShortString(wr, *h.MessageID)
	}
	if h.Timestamp != nil {
		wr.AppendUint64(uint64(*h.Timestamp))
	}
	if h.Type != nil {
		_ = encoding.MarshalShortString(wr, *h.Type)
	}
	if h.UserID != nil {
		_ = encoding.MarshalShortString(wr, *h.UserID)
	}
	if h.AppID != nil {
		_ = encoding.MarshalShortString(wr, *h.AppID)
	}
	if h.ClusterID != nil {
		_ = encoding.MarshalShortString(wr, *h.ClusterID)
	}
}

func decodeContentHeader(r *buffer.Reader) (*ContentHeader, error) {
	h := &ContentHeader{}

	var err error
	if h.ClassID, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if _, err = r.ReadUint16(); err != nil { // weight, discarded
		return nil, err
	}
	if h.BodySize, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	flags, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	readShortString := func() (*string, error) {
		s, err := encoding.UnmarshalShortString(r)
		if err != nil {
			return nil, err
		}
		return &s, nil
	}

	if flags&flagContentType != 0 {
		if h.ContentType, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagContentEncoding != 0 {
		if h.ContentEncoding, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagHeaders != 0 {
		if h.Headers, err = encoding.UnmarshalTable(r); err != nil {
			return nil, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		h.DeliveryMode = &b
	}
	if flags&flagPriority != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		h.Priority = &b
	}
	if flags&flagCorrelationID != 0 {
		if h.CorrelationID, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagReplyTo != 0 {
		if h.ReplyTo, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagExpiration != 0 {
		if h.Expiration, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagMessageID != 0 {
		if h.MessageID, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagTimestamp != 0 {
		v, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		ts := encoding.Timestamp(v)
		h.Timestamp = &ts
	}
	if flags&flagType != 0 {
		if h.Type, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagUserID != 0 {
		if h.UserID, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagAppID != 0 {
		if h.AppID, err = readShortString(); err != nil {
			return nil, err
		}
	}
	if flags&flagClusterID != 0 {
		if h.ClusterID, err = readShortString(); err != nil {
			return nil, err
		}
	}

	return h, nil
}
