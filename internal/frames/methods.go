package frames

import (
	"fmt"

	"github.com/relaymq/relaymq/internal/buffer"
	"github.com/relaymq/relaymq/internal/encoding"
)

// Class ids.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
)

// Method ids, grouped by class.
const (
	MethodConnectionStart   uint16 = 10
	MethodConnectionStartOk uint16 = 11
	MethodConnectionTune    uint16 = 30
	MethodConnectionTuneOk  uint16 = 31
	MethodConnectionOpen    uint16 = 40
	MethodConnectionOpenOk  uint16 = 41
	MethodConnectionClose   uint16 = 50
	MethodConnectionCloseOk uint16 = 51

	MethodChannelOpen    uint16 = 10
	MethodChannelOpenOk  uint16 = 11
	MethodChannelClose   uint16 = 40
	MethodChannelCloseOk uint16 = 41

	MethodExchangeDeclare   uint16 = 10
	MethodExchangeDeclareOk uint16 = 11

	MethodQueueDeclare   uint16 = 10
	MethodQueueDeclareOk uint16 = 11
	MethodQueueBind      uint16 = 20
	MethodQueueBindOk    uint16 = 21
	MethodQueueDelete    uint16 = 40
	MethodQueueDeleteOk  uint16 = 41
	MethodQueueUnbind    uint16 = 50
	MethodQueueUnbindOk  uint16 = 51

	MethodBasicConsume   uint16 = 20
	MethodBasicConsumeOk uint16 = 21
	MethodBasicCancel    uint16 = 30
	MethodBasicCancelOk  uint16 = 31
	MethodBasicPublish   uint16 = 40
	MethodBasicDeliver   uint16 = 60
)

// ClassMethod packs a class id and method id into the 32-bit identifier
// spec.md's Data Model describes.
func ClassMethod(classID, methodID uint16) uint32 {
	return uint32(classID)<<16 | uint32(methodID)
}

// Method is implemented by every AMQP method argument struct: a
// positionally-typed field list whose shape the catalogue below
// supplies, following the teacher's per-type marshal(wr)/unmarshal(r)
// convention (see Azure/go-amqp's types.go).
type Method interface {
	ClassID() uint16
	MethodID() uint16
	Marshal(wr *buffer.Buffer) error
	Unmarshal(r *buffer.Reader) error
}

// NewMethod instantiates the zero-value Method registered for
// (classID, methodID), ready to Unmarshal into.
func NewMethod(classID, methodID uint16) (Method, error) {
	ctor, ok := catalogue[ClassMethod(classID, methodID)]
	if !ok {
		return nil, &UnknownMethodError{ClassID: classID, MethodID: methodID}
	}
	return ctor(), nil
}

// UnknownMethodError is returned by NewMethod for a class-method id not
// in the catalogue. Decode and Stream.Next pass it to the caller like any
// other decode error; the broker's read loop then ends the connection
// without sending a channel.close or connection.close.
type UnknownMethodError struct {
	ClassID, MethodID uint16
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("frames: unknown method %d.%d", e.ClassID, e.MethodID)
}

var catalogue = map[uint32]func() Method{
	ClassMethod(ClassConnection, MethodConnectionStart):   func() Method { return &ConnectionStart{} },
	ClassMethod(ClassConnection, MethodConnectionStartOk): func() Method { return &ConnectionStartOk{} },
	ClassMethod(ClassConnection, MethodConnectionTune):    func() Method { return &ConnectionTune{} },
	ClassMethod(ClassConnection, MethodConnectionTuneOk):  func() Method { return &ConnectionTuneOk{} },
	ClassMethod(ClassConnection, MethodConnectionOpen):    func() Method { return &ConnectionOpen{} },
	ClassMethod(ClassConnection, MethodConnectionOpenOk):  func() Method { return &ConnectionOpenOk{} },
	ClassMethod(ClassConnection, MethodConnectionClose):   func() Method { return &ConnectionClose{} },
	ClassMethod(ClassConnection, MethodConnectionCloseOk): func() Method { return &ConnectionCloseOk{} },

	ClassMethod(ClassChannel, MethodChannelOpen):    func() Method { return &ChannelOpen{} },
	ClassMethod(ClassChannel, MethodChannelOpenOk):  func() Method { return &ChannelOpenOk{} },
	ClassMethod(ClassChannel, MethodChannelClose):   func() Method { return &ChannelClose{} },
	ClassMethod(ClassChannel, MethodChannelCloseOk): func() Method { return &ChannelCloseOk{} },

	ClassMethod(ClassExchange, MethodExchangeDeclare):   func() Method { return &ExchangeDeclare{} },
	ClassMethod(ClassExchange, MethodExchangeDeclareOk): func() Method { return &ExchangeDeclareOk{} },

	ClassMethod(ClassQueue, MethodQueueDeclare):   func() Method { return &QueueDeclare{} },
	ClassMethod(ClassQueue, MethodQueueDeclareOk): func() Method { return &QueueDeclareOk{} },
	ClassMethod(ClassQueue, MethodQueueBind):      func() Method { return &QueueBind{} },
	ClassMethod(ClassQueue, MethodQueueBindOk):    func() Method { return &QueueBindOk{} },
	ClassMethod(ClassQueue, MethodQueueUnbind):    func() Method { return &QueueUnbind{} },
	ClassMethod(ClassQueue, MethodQueueUnbindOk):  func() Method { return &QueueUnbindOk{} },
	ClassMethod(ClassQueue, MethodQueueDelete):    func() Method { return &QueueDelete{} },
	ClassMethod(ClassQueue, MethodQueueDeleteOk):  func() Method { return &QueueDeleteOk{} },

	ClassMethod(ClassBasic, MethodBasicPublish):   func() Method { return &BasicPublish{} },
	ClassMethod(ClassBasic, MethodBasicConsume):   func() Method { return &BasicConsume{} },
	ClassMethod(ClassBasic, MethodBasicConsumeOk): func() Method { return &BasicConsumeOk{} },
	ClassMethod(ClassBasic, MethodBasicCancel):    func() Method { return &BasicCancel{} },
	ClassMethod(ClassBasic, MethodBasicCancelOk):  func() Method { return &BasicCancelOk{} },
	ClassMethod(ClassBasic, MethodBasicDeliver):   func() Method { return &BasicDeliver{} },
}

// --- connection ---

type ConnectionStart struct {
	VersionMajor, VersionMinor uint8
	ServerProperties           encoding.Table
	Mechanisms                 string
	Locales                    string
}

func (*ConnectionStart) ClassID() uint16  { return ClassConnection }
func (*ConnectionStart) MethodID() uint16 { return MethodConnectionStart }

func (m *ConnectionStart) Marshal(wr *buffer.Buffer) error {
	wr.AppendByte(m.VersionMajor)
	wr.AppendByte(m.VersionMinor)
	if err := encoding.MarshalTable(wr, m.ServerProperties); err != nil {
		return err
	}
	encoding.MarshalLongString(wr, m.Mechanisms)
	encoding.MarshalLongString(wr, m.Locales)
	return nil
}

func (m *ConnectionStart) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.VersionMajor, err = r.ReadByte(); err != nil {
		return err
	}
	if m.VersionMinor, err = r.ReadByte(); err != nil {
		return err
	}
	if m.ServerProperties, err = encoding.UnmarshalTable(r); err != nil {
		return err
	}
	if m.Mechanisms, err = encoding.UnmarshalLongString(r); err != nil {
		return err
	}
	m.Locales, err = encoding.UnmarshalLongString(r)
	return err
}

type ConnectionStartOk struct {
	ClientProperties encoding.Table
	Mechanism        string
	Response         string
	Locale           string
}

func (*ConnectionStartOk) ClassID() uint16  { return ClassConnection }
func (*ConnectionStartOk) MethodID() uint16 { return MethodConnectionStartOk }

func (m *ConnectionStartOk) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalTable(wr, m.ClientProperties); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.Mechanism); err != nil {
		return err
	}
	encoding.MarshalLongString(wr, m.Response)
	return encoding.MarshalShortString(wr, m.Locale)
}

func (m *ConnectionStartOk) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ClientProperties, err = encoding.UnmarshalTable(r); err != nil {
		return err
	}
	if m.Mechanism, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.Response, err = encoding.UnmarshalLongString(r); err != nil {
		return err
	}
	m.Locale, err = encoding.UnmarshalShortString(r)
	return err
}

type ConnectionTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTune) ClassID() uint16  { return ClassConnection }
func (*ConnectionTune) MethodID() uint16 { return MethodConnectionTune }

func (m *ConnectionTune) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint16(m.ChannelMax)
	wr.AppendUint32(m.FrameMax)
	wr.AppendUint16(m.Heartbeat)
	return nil
}

func (m *ConnectionTune) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ChannelMax, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.FrameMax, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Heartbeat, err = r.ReadUint16()
	return err
}

type ConnectionTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTuneOk) ClassID() uint16  { return ClassConnection }
func (*ConnectionTuneOk) MethodID() uint16 { return MethodConnectionTuneOk }

func (m *ConnectionTuneOk) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint16(m.ChannelMax)
	wr.AppendUint32(m.FrameMax)
	wr.AppendUint16(m.Heartbeat)
	return nil
}

func (m *ConnectionTuneOk) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ChannelMax, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.FrameMax, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Heartbeat, err = r.ReadUint16()
	return err
}

type ConnectionOpen struct {
	VirtualHost  string
	Capabilities string
	Insist       bool
}

func (*ConnectionOpen) ClassID() uint16  { return ClassConnection }
func (*ConnectionOpen) MethodID() uint16 { return MethodConnectionOpen }

func (m *ConnectionOpen) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.VirtualHost); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.Capabilities); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.Insist})
	return nil
}

func (m *ConnectionOpen) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.VirtualHost, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.Capabilities, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 1)
	if err != nil {
		return err
	}
	m.Insist = bits[0]
	return nil
}

type ConnectionOpenOk struct {
	KnownHosts string
}

func (*ConnectionOpenOk) ClassID() uint16  { return ClassConnection }
func (*ConnectionOpenOk) MethodID() uint16 { return MethodConnectionOpenOk }

func (m *ConnectionOpenOk) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalShortString(wr, m.KnownHosts)
}

func (m *ConnectionOpenOk) Unmarshal(r *buffer.Reader) error {
	var err error
	m.KnownHosts, err = encoding.UnmarshalShortString(r)
	return err
}

type ConnectionClose struct {
	ReplyCode          uint16
	ReplyText          string
	FailingClassID     uint16
	FailingMethodID    uint16
}

func (*ConnectionClose) ClassID() uint16  { return ClassConnection }
func (*ConnectionClose) MethodID() uint16 { return MethodConnectionClose }

func (m *ConnectionClose) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint16(m.ReplyCode)
	if err := encoding.MarshalShortString(wr, m.ReplyText); err != nil {
		return err
	}
	wr.AppendUint16(m.FailingClassID)
	wr.AppendUint16(m.FailingMethodID)
	return nil
}

func (m *ConnectionClose) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ReplyCode, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.ReplyText, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.FailingClassID, err = r.ReadUint16(); err != nil {
		return err
	}
	m.FailingMethodID, err = r.ReadUint16()
	return err
}

type ConnectionCloseOk struct{}

func (*ConnectionCloseOk) ClassID() uint16               { return ClassConnection }
func (*ConnectionCloseOk) MethodID() uint16              { return MethodConnectionCloseOk }
func (*ConnectionCloseOk) Marshal(*buffer.Buffer) error   { return nil }
func (*ConnectionCloseOk) Unmarshal(*buffer.Reader) error { return nil }

// --- channel ---

type ChannelOpen struct {
	OutOfBand string
}

func (*ChannelOpen) ClassID() uint16  { return ClassChannel }
func (*ChannelOpen) MethodID() uint16 { return MethodChannelOpen }

func (m *ChannelOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalShortString(wr, m.OutOfBand)
}

func (m *ChannelOpen) Unmarshal(r *buffer.Reader) error {
	var err error
	m.OutOfBand, err = encoding.UnmarshalShortString(r)
	return err
}

type ChannelOpenOk struct {
	ChannelID string
}

func (*ChannelOpenOk) ClassID() uint16  { return ClassChannel }
func (*ChannelOpenOk) MethodID() uint16 { return MethodChannelOpenOk }

func (m *ChannelOpenOk) Marshal(wr *buffer.Buffer) error {
	encoding.MarshalLongString(wr, m.ChannelID)
	return nil
}

func (m *ChannelOpenOk) Unmarshal(r *buffer.Reader) error {
	var err error
	m.ChannelID, err = encoding.UnmarshalLongString(r)
	return err
}

type ChannelClose struct {
	ReplyCode       uint16
	ReplyText       string
	FailingClassID  uint16
	FailingMethodID uint16
}

func (*ChannelClose) ClassID() uint16  { return ClassChannel }
func (*ChannelClose) MethodID() uint16 { return MethodChannelClose }

func (m *ChannelClose) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint16(m.ReplyCode)
	if err := encoding.MarshalShortString(wr, m.ReplyText); err != nil {
		return err
	}
	wr.AppendUint16(m.FailingClassID)
	wr.AppendUint16(m.FailingMethodID)
	return nil
}

func (m *ChannelClose) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ReplyCode, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.ReplyText, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.FailingClassID, err = r.ReadUint16(); err != nil {
		return err
	}
	m.FailingMethodID, err = r.ReadUint16()
	return err
}

type ChannelCloseOk struct{}

func (*ChannelCloseOk) ClassID() uint16               { return ClassChannel }
func (*ChannelCloseOk) MethodID() uint16              { return MethodChannelCloseOk }
func (*ChannelCloseOk) Marshal(*buffer.Buffer) error   { return nil }
func (*ChannelCloseOk) Unmarshal(*buffer.Reader) error { return nil }

// --- exchange ---

type ExchangeDeclare struct {
	ExchangeName string
	ExchangeType string
	Passive      bool
	Durable      bool
	AutoDelete   bool
	Internal     bool
	NoWait       bool
	Arguments    encoding.Table
}

func (*ExchangeDeclare) ClassID() uint16  { return ClassExchange }
func (*ExchangeDeclare) MethodID() uint16 { return MethodExchangeDeclare }

func (m *ExchangeDeclare) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.ExchangeName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.ExchangeType); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait})
	return encoding.MarshalTable(wr, m.Arguments)
}

func (m *ExchangeDeclare) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ExchangeName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.ExchangeType, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = encoding.UnmarshalTable(r)
	return err
}

type ExchangeDeclareOk struct{}

func (*ExchangeDeclareOk) ClassID() uint16               { return ClassExchange }
func (*ExchangeDeclareOk) MethodID() uint16              { return MethodExchangeDeclareOk }
func (*ExchangeDeclareOk) Marshal(*buffer.Buffer) error   { return nil }
func (*ExchangeDeclareOk) Unmarshal(*buffer.Reader) error { return nil }

// --- queue ---

type QueueDeclare struct {
	QueueName  string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  encoding.Table
}

func (*QueueDeclare) ClassID() uint16  { return ClassQueue }
func (*QueueDeclare) MethodID() uint16 { return MethodQueueDeclare }

func (m *QueueDeclare) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait})
	return encoding.MarshalTable(wr, m.Arguments)
}

func (m *QueueDeclare) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = encoding.UnmarshalTable(r)
	return err
}

type QueueDeclareOk struct {
	QueueName     string
	MessageCount  uint32
	ConsumerCount uint32
}

func (*QueueDeclareOk) ClassID() uint16  { return ClassQueue }
func (*QueueDeclareOk) MethodID() uint16 { return MethodQueueDeclareOk }

func (m *QueueDeclareOk) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	wr.AppendUint32(m.MessageCount)
	wr.AppendUint32(m.ConsumerCount)
	return nil
}

func (m *QueueDeclareOk) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.MessageCount, err = r.ReadUint32(); err != nil {
		return err
	}
	m.ConsumerCount, err = r.ReadUint32()
	return err
}

type QueueBind struct {
	QueueName    string
	ExchangeName string
	RoutingKey   string
	NoWait       bool
	Arguments    encoding.Table
}

func (*QueueBind) ClassID() uint16  { return ClassQueue }
func (*QueueBind) MethodID() uint16 { return MethodQueueBind }

func (m *QueueBind) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.ExchangeName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.RoutingKey); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.NoWait})
	return encoding.MarshalTable(wr, m.Arguments)
}

func (m *QueueBind) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.ExchangeName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 1)
	if err != nil {
		return err
	}
	m.NoWait = bits[0]
	m.Arguments, err = encoding.UnmarshalTable(r)
	return err
}

type QueueBindOk struct{}

func (*QueueBindOk) ClassID() uint16               { return ClassQueue }
func (*QueueBindOk) MethodID() uint16              { return MethodQueueBindOk }
func (*QueueBindOk) Marshal(*buffer.Buffer) error   { return nil }
func (*QueueBindOk) Unmarshal(*buffer.Reader) error { return nil }

type QueueUnbind struct {
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Arguments    encoding.Table
}

func (*QueueUnbind) ClassID() uint16  { return ClassQueue }
func (*QueueUnbind) MethodID() uint16 { return MethodQueueUnbind }

func (m *QueueUnbind) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.ExchangeName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.RoutingKey); err != nil {
		return err
	}
	return encoding.MarshalTable(wr, m.Arguments)
}

func (m *QueueUnbind) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.ExchangeName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	m.Arguments, err = encoding.UnmarshalTable(r)
	return err
}

type QueueUnbindOk struct{}

func (*QueueUnbindOk) ClassID() uint16               { return ClassQueue }
func (*QueueUnbindOk) MethodID() uint16              { return MethodQueueUnbindOk }
func (*QueueUnbindOk) Marshal(*buffer.Buffer) error   { return nil }
func (*QueueUnbindOk) Unmarshal(*buffer.Reader) error { return nil }

type QueueDelete struct {
	QueueName string
	IfUnused  bool
	IfEmpty   bool
	NoWait    bool
}

func (*QueueDelete) ClassID() uint16  { return ClassQueue }
func (*QueueDelete) MethodID() uint16 { return MethodQueueDelete }

func (m *QueueDelete) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.IfUnused, m.IfEmpty, m.NoWait})
	return nil
}

func (m *QueueDelete) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 3)
	if err != nil {
		return err
	}
	m.IfUnused, m.IfEmpty, m.NoWait = bits[0], bits[1], bits[2]
	return nil
}

type QueueDeleteOk struct {
	MessageCount uint32
}

func (*QueueDeleteOk) ClassID() uint16  { return ClassQueue }
func (*QueueDeleteOk) MethodID() uint16 { return MethodQueueDeleteOk }

func (m *QueueDeleteOk) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint32(m.MessageCount)
	return nil
}

func (m *QueueDeleteOk) Unmarshal(r *buffer.Reader) error {
	var err error
	m.MessageCount, err = r.ReadUint32()
	return err
}

// --- basic ---

type BasicPublish struct {
	ExchangeName string
	RoutingKey   string
	Mandatory    bool
	Immediate    bool
}

func (*BasicPublish) ClassID() uint16  { return ClassBasic }
func (*BasicPublish) MethodID() uint16 { return MethodBasicPublish }

func (m *BasicPublish) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.ExchangeName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.RoutingKey); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.Mandatory, m.Immediate})
	return nil
}

func (m *BasicPublish) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ExchangeName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 2)
	if err != nil {
		return err
	}
	m.Mandatory, m.Immediate = bits[0], bits[1]
	return nil
}

type BasicConsume struct {
	QueueName   string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   encoding.Table
}

func (*BasicConsume) ClassID() uint16  { return ClassBasic }
func (*BasicConsume) MethodID() uint16 { return MethodBasicConsume }

func (m *BasicConsume) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.QueueName); err != nil {
		return err
	}
	if err := encoding.MarshalShortString(wr, m.ConsumerTag); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.NoLocal, m.NoAck, m.Exclusive, m.NoWait})
	return encoding.MarshalTable(wr, m.Arguments)
}

func (m *BasicConsume) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.QueueName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.ConsumerTag, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 4)
	if err != nil {
		return err
	}
	m.NoLocal, m.NoAck, m.Exclusive, m.NoWait = bits[0], bits[1], bits[2], bits[3]
	m.Arguments, err = encoding.UnmarshalTable(r)
	return err
}

type BasicConsumeOk struct {
	ConsumerTag string
}

func (*BasicConsumeOk) ClassID() uint16  { return ClassBasic }
func (*BasicConsumeOk) MethodID() uint16 { return MethodBasicConsumeOk }

func (m *BasicConsumeOk) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalShortString(wr, m.ConsumerTag)
}

func (m *BasicConsumeOk) Unmarshal(r *buffer.Reader) error {
	var err error
	m.ConsumerTag, err = encoding.UnmarshalShortString(r)
	return err
}

type BasicCancel struct {
	ConsumerTag string
	NoWait      bool
}

func (*BasicCancel) ClassID() uint16  { return ClassBasic }
func (*BasicCancel) MethodID() uint16 { return MethodBasicCancel }

func (m *BasicCancel) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.ConsumerTag); err != nil {
		return err
	}
	encoding.MarshalBools(wr, []bool{m.NoWait})
	return nil
}

func (m *BasicCancel) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ConsumerTag, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 1)
	if err != nil {
		return err
	}
	m.NoWait = bits[0]
	return nil
}

type BasicCancelOk struct {
	ConsumerTag string
}

func (*BasicCancelOk) ClassID() uint16  { return ClassBasic }
func (*BasicCancelOk) MethodID() uint16 { return MethodBasicCancelOk }

func (m *BasicCancelOk) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalShortString(wr, m.ConsumerTag)
}

func (m *BasicCancelOk) Unmarshal(r *buffer.Reader) error {
	var err error
	m.ConsumerTag, err = encoding.UnmarshalShortString(r)
	return err
}

type BasicDeliver struct {
	ConsumerTag  string
	DeliveryTag  uint64
	Redelivered  bool
	ExchangeName string
	RoutingKey   string
}

func (*BasicDeliver) ClassID() uint16  { return ClassBasic }
func (*BasicDeliver) MethodID() uint16 { return MethodBasicDeliver }

func (m *BasicDeliver) Marshal(wr *buffer.Buffer) error {
	if err := encoding.MarshalShortString(wr, m.ConsumerTag); err != nil {
		return err
	}
	wr.AppendUint64(m.DeliveryTag)
	encoding.MarshalBools(wr, []bool{m.Redelivered})
	if err := encoding.MarshalShortString(wr, m.ExchangeName); err != nil {
		return err
	}
	return encoding.MarshalShortString(wr, m.RoutingKey)
}

func (m *BasicDeliver) Unmarshal(r *buffer.Reader) error {
	var err error
	if m.ConsumerTag, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	if m.DeliveryTag, err = r.ReadUint64(); err != nil {
		return err
	}
	bits, err := encoding.UnmarshalBools(r, 1)
	if err != nil {
		return err
	}
	m.Redelivered = bits[0]
	if m.ExchangeName, err = encoding.UnmarshalShortString(r); err != nil {
		return err
	}
	m.RoutingKey, err = encoding.UnmarshalShortString(r)
	return err
}
