// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package gogm

import "errors"

//Event is delivered to listeners after an entity was written or loaded.
type Event struct {
	Kind      string
	Entity    any
	Operation OperationType
}

//EventListener receives post-write and post-load notifications, one per entity.
type EventListener interface {
	OnPostInsert(Event)
	OnPostUpdate(Event)
	OnPostDelete(Event)
	OnPostLoad(Event)
}

//Vetoer is optionally implemented by listeners that may cancel writes before they are executed.
type Vetoer interface {
	VetoInsert(Event) bool
	VetoUpdate(Event) bool
	VetoDelete(Event) bool
}

//FlushListener is optionally implemented by listeners interested in completed flushes.
type FlushListener interface {
	OnFlushed()
}

type eventer struct {
	eventListeners []EventListener
}

func (e *eventer) registerEventListener(eventListener EventListener) error {
	if eventListener == nil {
		return errors.New("eventListener can't be nil")
	}
	for _, registered := range e.eventListeners {
		if registered == eventListener {
			return errors.New("eventListener already registered")
		}
	}
	e.eventListeners = append(e.eventListeners, eventListener)
	return nil
}

func (e *eventer) disposeEventListener(eventListener EventListener) error {
	for i, registered := range e.eventListeners {
		if registered == eventListener {
			e.eventListeners = append(e.eventListeners[:i], e.eventListeners[i+1:]...)
			return nil
		}
	}
	return errors.New("eventListener not found")
}

func (e *eventer) vetoes(op *PendingOperation) bool {
	event := Event{Kind: op.Kind, Entity: op.Entity(), Operation: op.Type}
	for _, l := range e.eventListeners {
		vetoer, ok := l.(Vetoer)
		if !ok {
			continue
		}
		var vetoed bool
		switch op.Type {
		case InsertOperation:
			vetoed = vetoer.VetoInsert(event)
		case UpdateOperation:
			vetoed = vetoer.VetoUpdate(event)
		case DeleteOperation:
			vetoed = vetoer.VetoDelete(event)
		}
		if vetoed {
			return true
		}
	}
	return false
}

func (e *eventer) notifyPost(op *PendingOperation) {
	event := Event{Kind: op.Kind, Entity: op.Entity(), Operation: op.Type}
	for _, l := range e.eventListeners {
		switch op.Type {
		case InsertOperation:
			l.OnPostInsert(event)
		case UpdateOperation:
			l.OnPostUpdate(event)
		case DeleteOperation:
			l.OnPostDelete(event)
		}
	}
}

func (e *eventer) notifyPostLoad(kind string, entity any) {
	for _, l := range e.eventListeners {
		l.OnPostLoad(Event{Kind: kind, Entity: entity})
	}
}

func (e *eventer) notifyFlushed() {
	for _, l := range e.eventListeners {
		if fl, ok := l.(FlushListener); ok {
			fl.OnFlushed()
		}
	}
}
