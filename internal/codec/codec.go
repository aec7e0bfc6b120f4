// Package codec implements the gateway's raw byte codec. Unlike a generated
// protobuf codec it carries no schema: encoding writes the caller's bytes
// verbatim, decoding hands back whatever bytes arrived. Protobuf encoding
// and decoding happens one layer up, against descriptors fetched via
// reflection, because the gateway has no generated stubs for the services
// it proxies to.
package codec

import "fmt"

// Name is the codec name registered with grpc's call options. It is
// intentionally "proto" so that servers negotiating content-subtype see a
// protocol they recognize; the bytes that cross the wire are still the raw
// protobuf encoding produced by the invocation engine.
const Name = "proto"

// Bytes is a gRPC encoding.Codec that passes opaque byte slices straight
// through.
type Bytes struct{}

// Marshal writes v's bytes verbatim; v must be a *[]byte.
func (Bytes) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("codec: expected *[]byte, got %T", v)
	}
	return *b, nil
}

// Unmarshal copies data into *v so the codec never aliases the transport's
// receive buffer.
func (Bytes) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("codec: expected *[]byte, got %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

// Name returns the codec's registered name.
func (Bytes) Name() string { return Name }
