package domain

import (
	amqp "github.com/rabbitmq/amqp091-go"

	patientimport "github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// StageKind is the pipeline stage a queue feeds
type StageKind string

const (
	StageCreate StageKind = "create"
	StageQuery  StageKind = "query"
)

// StageMessage is one decoded delivery waiting for a worker goroutine
type StageMessage struct {
	Kind      StageKind
	RequestID string
	Create    *patientimport.CreateRequest
	Query     *patientimport.QueryRequest
	Delivery  amqp.Delivery
}

// CxID returns the customer the message belongs to
func (m *StageMessage) CxID() string {
	if m.Create != nil {
		return m.Create.CxID
	}
	if m.Query != nil {
		return m.Query.CxID
	}
	return ""
}

// JobID returns the import job the message belongs to
func (m *StageMessage) JobID() string {
	if m.Create != nil {
		return m.Create.JobID
	}
	if m.Query != nil {
		return m.Query.JobID
	}
	return ""
}

// RowNumber returns the row the message advances
func (m *StageMessage) RowNumber() int {
	if m.Create != nil {
		return m.Create.RowNumber
	}
	if m.Query != nil {
		return m.Query.RowNumber
	}
	return 0
}

// Ref identifies the row the message advances
func (m *StageMessage) Ref() patientimport.RowRef {
	return patientimport.RowRef{CxID: m.CxID(), JobID: m.JobID(), RowNumber: m.RowNumber()}
}
