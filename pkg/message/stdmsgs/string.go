// Package stdmsgs holds hand-written stand-ins for the messages the
// (out-of-scope) ".msg" code generator would normally emit. String is the
// same type referenced in the core spec's end-to-end scenario 1.
package stdmsgs

import (
	"github.com/goros/rosnode/pkg/message"
	"github.com/goros/rosnode/pkg/wire"
)

// stringDefinition is the human-readable .msg text. stringMD5 is computed
// by the generator over a canonicalized form of the schema ("string data",
// no trailing newline) rather than over stringDefinition verbatim — the
// two differ for every real message type, so it is carried as a literal
// rather than derived here.
const stringDefinition = "string data\n"

const stringMD5 = "992ce8a1687cec8c8bd883ec73ca41d1"

// String mirrors std_msgs/String: a single variable-length string field.
type String struct {
	Data string
}

func (m *String) Serialize(buf []byte) ([]byte, error) {
	return wire.PutString(buf, m.Data), nil
}

func (m *String) Deserialize(buf []byte, offset *int) error {
	s, err := wire.GetString(buf, offset)
	if err != nil {
		return err
	}
	m.Data = s
	return nil
}

func (m *String) GetMessageSize() int { return wire.StringSize(m.Data) }

func (m *String) MD5Sum() string { return stringMD5 }

func (m *String) DataType() string { return "std_msgs/String" }

func (m *String) MessageDefinition() string { return stringDefinition }

// NewString returns a new zero-valued String. It returns *String rather
// than message.Message, so it is not itself a message.Factory; wrap it as
// func() message.Message { return NewString() } where one is needed.
func NewString() *String { return &String{} }

var _ message.Message = (*String)(nil)
