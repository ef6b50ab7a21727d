package domain

import "time"

// TickCompleted is published on Context.Bus after every publication loop
// tick, whether or not every transport or metric succeeded.
type TickCompleted struct {
	At          time.Time
	Duration    time.Duration
	VMCount     int
	MetricCount int
	Errors      []string
}

// TickTopic is the typed topic publish.Loop announces TickCompleted events
// on and the admin server subscribes to.
var TickTopic = NewTopic[TickCompleted]("tick.completed")
