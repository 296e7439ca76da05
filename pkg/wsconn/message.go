package wsconn

import "github.com/tidwall/gjson"

// Message is an inbound frame as seen by subscribers. Data is the full
// raw JSON payload; Channel/Type/Event are the extracted routing fields.
type Message struct {
	Channel string
	Type    string
	Event   string
	Data    []byte
}

// parseMessage extracts the routing fields from a raw frame.
func parseMessage(data []byte) Message {
	return Message{
		Channel: gjson.GetBytes(data, "channel").String(),
		Type:    gjson.GetBytes(data, "type").String(),
		Event:   gjson.GetBytes(data, "event").String(),
		Data:    data,
	}
}

// channelKey derives the routing key: explicit channel, else type, else
// event, else the wildcard.
func (m Message) channelKey() string {
	switch {
	case m.Channel != "":
		return m.Channel
	case m.Type != "":
		return m.Type
	case m.Event != "":
		return m.Event
	default:
		return Wildcard
	}
}
