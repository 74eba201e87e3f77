package coordinator

import "time"

// Observer receives coordinator events, typically to record metrics
type Observer interface {
	RecordRegistration(outcome string)
	RecordAdmission(admission string)
	RecordRequest(outcome string, duration time.Duration)
	SetRegistrationsActive(count int)
}

type nopObserver struct{}

func (nopObserver) RecordRegistration(string)           {}
func (nopObserver) RecordAdmission(string)              {}
func (nopObserver) RecordRequest(string, time.Duration) {}
func (nopObserver) SetRegistrationsActive(int)          {}
