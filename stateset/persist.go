package stateset

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// wire form for persisted set content:
//   field 1 (varint): element count
//   field 2 (bytes, repeated): encoded elements

const persistCountField = protowire.Number(1)
const persistElementField = protowire.Number(2)

type ElementEncodeFunction[T comparable] func(value T) ([]byte, error)
type ElementDecodeFunction[T comparable] func(elementBytes []byte) (T, error)

func EncodeSet[T comparable](set *Set[T], encode ElementEncodeFunction[T]) ([]byte, error) {
	b := protowire.AppendTag(nil, persistCountField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(set.Len()))
	for _, value := range set.Values() {
		elementBytes, err := encode(value)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, persistElementField, protowire.BytesType)
		b = protowire.AppendBytes(b, elementBytes)
	}
	return b, nil
}

func DecodeSet[T comparable](b []byte, decode ElementDecodeFunction[T]) (*Set[T], error) {
	set := EmptySet[T]()
	count := -1
	for 0 < len(b) {
		fieldNumber, fieldType, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch fieldNumber {
		case persistCountField:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			count = int(v)
		case persistElementField:
			elementBytes, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			value, err := decode(elementBytes)
			if err != nil {
				return nil, err
			}
			set = set.Add(value)
		default:
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if 0 <= count && set.Len() != count {
		return nil, fmt.Errorf("element count mismatch: %d <> %d", count, set.Len())
	}
	return set, nil
}

// persist the content visible to the current snapshot
func (self *SnapshotStateSet[T]) Persist(encode ElementEncodeFunction[T]) ([]byte, error) {
	return EncodeSet(self.ToSet(), encode)
}

// add the persisted elements through the normal mutation path
func (self *SnapshotStateSet[T]) Restore(b []byte, decode ElementDecodeFunction[T]) error {
	set, err := DecodeSet(b, decode)
	if err != nil {
		return err
	}
	self.AddAll(set.Values())
	return nil
}

// element codec for string sets, used by the sync transport

func EncodeStringElement(value string) ([]byte, error) {
	return []byte(value), nil
}

func DecodeStringElement(elementBytes []byte) (string, error) {
	return string(elementBytes), nil
}
