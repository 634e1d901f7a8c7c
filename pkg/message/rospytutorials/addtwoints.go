// Package rospytutorials holds a hand-written stand-in for
// rospy_tutorials/AddTwoInts, the service used in the core spec's
// end-to-end scenario 5. Real generator output would derive these from an
// AddTwoInts.srv file; here they're written directly against the
// pkg/message contract.
package rospytutorials

import (
	"github.com/goros/rosnode/pkg/message"
	"github.com/goros/rosnode/pkg/wire"
)

// AddTwoIntsRequest carries the two operands.
type AddTwoIntsRequest struct {
	A int64
	B int64
}

func (m *AddTwoIntsRequest) Serialize(buf []byte) ([]byte, error) {
	buf = wire.PutI64(buf, m.A)
	buf = wire.PutI64(buf, m.B)
	return buf, nil
}

func (m *AddTwoIntsRequest) Deserialize(buf []byte, offset *int) error {
	a, err := wire.GetI64(buf, offset)
	if err != nil {
		return err
	}
	b, err := wire.GetI64(buf, offset)
	if err != nil {
		return err
	}
	m.A, m.B = a, b
	return nil
}

func (m *AddTwoIntsRequest) GetMessageSize() int { return 16 }

func (m *AddTwoIntsRequest) MD5Sum() string { return addTwoIntsMD5 }

func (m *AddTwoIntsRequest) DataType() string { return "rospy_tutorials/AddTwoIntsRequest" }

func (m *AddTwoIntsRequest) MessageDefinition() string { return "int64 a\nint64 b\n" }

// AddTwoIntsResponse carries the sum.
type AddTwoIntsResponse struct {
	Sum int64
}

func (m *AddTwoIntsResponse) Serialize(buf []byte) ([]byte, error) {
	return wire.PutI64(buf, m.Sum), nil
}

func (m *AddTwoIntsResponse) Deserialize(buf []byte, offset *int) error {
	sum, err := wire.GetI64(buf, offset)
	if err != nil {
		return err
	}
	m.Sum = sum
	return nil
}

func (m *AddTwoIntsResponse) GetMessageSize() int { return 8 }

func (m *AddTwoIntsResponse) MD5Sum() string { return addTwoIntsMD5 }

func (m *AddTwoIntsResponse) DataType() string { return "rospy_tutorials/AddTwoIntsResponse" }

func (m *AddTwoIntsResponse) MessageDefinition() string { return "int64 sum\n" }

// addTwoIntsMD5 is the joint request+response fingerprint: computed over
// the concatenation of the two schemas with no separator (§4.3 of the core
// spec's data model table).
const addTwoIntsMD5 = "6a2e34150c00229791cc89ff309fff21"

// addTwoInts implements message.Service.
type addTwoInts struct{}

// AddTwoInts is the service descriptor for rospy_tutorials/AddTwoInts.
var AddTwoInts = addTwoInts{}

func (addTwoInts) NewRequest() message.Message  { return &AddTwoIntsRequest{} }
func (addTwoInts) NewResponse() message.Message { return &AddTwoIntsResponse{} }
func (addTwoInts) MD5Sum() string               { return addTwoIntsMD5 }
func (addTwoInts) Type() string                 { return "rospy_tutorials/AddTwoInts" }

var _ message.Service = AddTwoInts
var _ message.Message = (*AddTwoIntsRequest)(nil)
var _ message.Message = (*AddTwoIntsResponse)(nil)
