package messages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otherCreated struct {
	Name string `json:"name"`
}

func (otherCreated) Subject() Subject { return TicketCreated }
func (otherCreated) Validate() error  { return nil }

type orphanEvent struct{}

func (orphanEvent) Subject() Subject { return "orphan:happened" }
func (orphanEvent) Validate() error  { return nil }

func TestDefaultRegistrySubjects(t *testing.T) {
	assert.Equal(t, []Subject{TicketCreated, TicketUpdated}, Default.Subjects())
	assert.Equal(t, map[string]Subject{
		"TicketCreatedEvent": TicketCreated,
		"TicketUpdatedEvent": TicketUpdated,
	}, SubjectNames())

	c, ok := Default.Lookup(TicketCreated)
	require.True(t, ok)
	assert.Equal(t, "TicketCreatedEvent", c.TypeName)
	require.Len(t, c.Fields, 4)
	assert.Equal(t, "userId", c.Fields[3].JSONName)
	assert.False(t, c.Fields[3].Required)
}

func TestRegistryValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject Subject
		data    string
		valid   bool
		wantErr error
	}{
		{"created", TicketCreated, `{"id":"123","title":"concert","price":20}`, true, nil},
		{"updated with owner", TicketUpdated, `{"id":"1","title":"t","price":1,"userId":"u"}`, true, nil},
		{"missing price", TicketCreated, `{"id":"123","title":"concert"}`, false, nil},
		{"zero price", TicketCreated, `{"id":"123","title":"concert","price":0}`, false, nil},
		{"empty title", TicketUpdated, `{"id":"1","title":"","price":1}`, false, nil},
		{"unknown subject", "order:created", `{}`, false, ErrUnregisteredSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default.Validate(tt.subject, []byte(tt.data))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Register[TicketCreatedEvent](r))
	require.NoError(t, Register[TicketCreatedEvent](r), "re-registering the same type is a no-op")

	err := Register[otherCreated](r)
	assert.ErrorIs(t, err, ErrContractMismatch)
	assert.Panics(t, func() { MustRegister[otherCreated](r) })
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check[TicketCreatedEvent](Default))
	assert.ErrorIs(t, Check[otherCreated](Default), ErrContractMismatch)
	assert.ErrorIs(t, Check[orphanEvent](Default), ErrUnregisteredSubject)
	assert.True(t, errors.Is(Check[*TicketCreatedEvent](Default), ErrContractMismatch))
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, NewTicketCreatedEvent("123", "concert", 20).Validate())
	assert.Error(t, NewTicketCreatedEvent("", "concert", 20).Validate())
	assert.Error(t, NewTicketCreatedEvent("123", " ", 20).Validate())
	assert.Error(t, NewTicketUpdatedEvent("123", "concert", -1).Validate())
}
