package stateset

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so that `Get` never races an `Add`/`Remove`
type CallbackList[T any] struct {
	mutex       sync.Mutex
	callbackIds map[Id]int
	callbacks   []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: map[Id]int{},
		callbacks:   []T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.callbacks
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := NewId()
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callback)
	self.callbackIds[callbackId] = len(nextCallbacks) - 1
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i, ok := self.callbackIds[callbackId]
	if !ok {
		// not present
		return
	}
	delete(self.callbackIds, callbackId)
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
	for _, callbackId := range maps.Keys(self.callbackIds) {
		if i < self.callbackIds[callbackId] {
			self.callbackIds[callbackId] -= 1
		}
	}
}
