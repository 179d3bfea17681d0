package broker

import "github.com/relaymq/relaymq/internal/frames"

// Message is a routed, fully assembled content message: the concatenation
// of a basic.publish's routing information with the content header and
// body bytes that followed it on the wire.
type Message struct {
	Exchange   string
	RoutingKey string
	Header     *frames.ContentHeader
	Body       []byte
}

// PublishedContent tracks a basic.publish whose content header and body
// frames have not yet fully arrived on a channel. Invariant (a): at most
// one of these exists per channel at a time.
type PublishedContent struct {
	Exchange    string
	RoutingKey  string
	Expected    uint64
	haveHeader  bool
	accumulated []byte
	header      *frames.ContentHeader
}

// done reports whether the accumulated body matches the expected length.
func (p *PublishedContent) done() bool {
	return p.haveHeader && uint64(len(p.accumulated)) >= p.Expected
}

func (p *PublishedContent) toMessage() *Message {
	return &Message{
		Exchange:   p.Exchange,
		RoutingKey: p.RoutingKey,
		Header:     p.header,
		Body:       p.accumulated,
	}
}
