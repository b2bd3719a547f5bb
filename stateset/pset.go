package stateset

import (
	"fmt"
	"hash/maphash"
	"strings"

	"github.com/benbjohnson/immutable"
)

var setSeed = maphash.MakeSeed()

// immutable.Hasher implementation for any comparable element type
type setHasher[T comparable] struct{}

func (self setHasher[T]) Hash(key T) uint32 {
	return uint32(maphash.Comparable(setSeed, key))
}

func (self setHasher[T]) Equal(a T, b T) bool {
	return a == b
}

// persistent set with structural sharing.
// all edit operations return a new set and leave the receiver unchanged.
// a no-op edit returns the receiver itself, so pointer equality means "nothing changed".
type Set[T comparable] struct {
	m *immutable.Map[T, struct{}]
}

func EmptySet[T comparable]() *Set[T] {
	return &Set[T]{
		m: immutable.NewMap[T, struct{}](setHasher[T]{}),
	}
}

func NewSet[T comparable](values ...T) *Set[T] {
	return EmptySet[T]().AddAll(values)
}

func (self *Set[T]) Len() int {
	return self.m.Len()
}

func (self *Set[T]) IsEmpty() bool {
	return self.m.Len() == 0
}

func (self *Set[T]) Contains(value T) bool {
	_, ok := self.m.Get(value)
	return ok
}

func (self *Set[T]) ContainsAll(values []T) bool {
	for _, value := range values {
		if !self.Contains(value) {
			return false
		}
	}
	return true
}

func (self *Set[T]) Add(value T) *Set[T] {
	if self.Contains(value) {
		return self
	}
	return &Set[T]{m: self.m.Set(value, struct{}{})}
}

func (self *Set[T]) AddAll(values []T) *Set[T] {
	out := self
	for _, value := range values {
		out = out.Add(value)
	}
	return out
}

func (self *Set[T]) Remove(value T) *Set[T] {
	if !self.Contains(value) {
		return self
	}
	return &Set[T]{m: self.m.Delete(value)}
}

func (self *Set[T]) RemoveAll(values []T) *Set[T] {
	out := self
	for _, value := range values {
		out = out.Remove(value)
	}
	return out
}

func (self *Set[T]) Values() []T {
	values := make([]T, 0, self.m.Len())
	for itr := self.m.Iterator(); !itr.Done(); {
		value, _, _ := itr.Next()
		values = append(values, value)
	}
	return values
}

// structural equality by membership
func (self *Set[T]) Equal(other *Set[T]) bool {
	if self == other {
		return true
	}
	if self.m.Len() != other.m.Len() {
		return false
	}
	for itr := self.m.Iterator(); !itr.Done(); {
		value, _, _ := itr.Next()
		if !other.Contains(value) {
			return false
		}
	}
	return true
}

func (self *Set[T]) String() string {
	parts := []string{}
	for itr := self.m.Iterator(); !itr.Done(); {
		value, _, _ := itr.Next()
		parts = append(parts, fmt.Sprintf("%v", value))
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ","))
}

// mutable edit view over a set for batched edits.
// `Build` returns the original set when no edit changed membership.
func (self *Set[T]) Builder() *SetBuilder[T] {
	return &SetBuilder[T]{set: self}
}

type SetBuilder[T comparable] struct {
	set *Set[T]
}

func (self *SetBuilder[T]) Len() int {
	return self.set.Len()
}

func (self *SetBuilder[T]) Contains(value T) bool {
	return self.set.Contains(value)
}

func (self *SetBuilder[T]) Add(value T) {
	self.set = self.set.Add(value)
}

func (self *SetBuilder[T]) Remove(value T) {
	self.set = self.set.Remove(value)
}

// keep only values for which `keep` returns true
func (self *SetBuilder[T]) Retain(keep func(T) bool) {
	for _, value := range self.set.Values() {
		if !keep(value) {
			self.set = self.set.Remove(value)
		}
	}
}

func (self *SetBuilder[T]) Build() *Set[T] {
	return self.set
}
