// Package typeregistry implements the kernel-object type registry (C1):
// given a type tag it reports fixed size, exploded size, and the
// byte-offset-to-address expansion needed for injection targets that fall
// outside a structure's fixed header.
package typeregistry

import "fmt"

// Type is the closed set of injectable FreeRTOS kernel object kinds. The
// numeric values are persisted in the catalog file (spec §6.2) and must
// never be renumbered.
type Type int

const (
	Task Type = iota
	Queue
	Timer
	Semaphore
	CountingSemaphore
	EventGroup
	MessageBuffer
	StreamBuffer
	QueueSet
	StaticStack
	List
)

var typeNames = map[Type]string{
	Task:              "Task",
	Queue:             "Queue",
	Timer:             "Timer",
	Semaphore:         "Semaphore",
	CountingSemaphore: "CountingSemaphore",
	EventGroup:        "EventGroup",
	MessageBuffer:     "MessageBuffer",
	StreamBuffer:      "StreamBuffer",
	QueueSet:          "QueueSet",
	StaticStack:       "StaticStack",
	List:              "List",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a catalog-file numeric tag to a Type, per spec §6.2.
func ParseType(tag int) (Type, error) {
	if _, ok := typeNames[Type(tag)]; !ok {
		return 0, fmt.Errorf("typeregistry: unknown type tag %d", tag)
	}
	return Type(tag), nil
}
