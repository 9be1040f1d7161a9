package bus

import (
	"context"
	"testing"
	"time"

	"ticketing/internal/messages"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"ticketing.ticket:created", "ticketing.ticket:created", true},
		{"ticketing.*", "ticketing.ticket:created", true},
		{"ticketing.>", "ticketing.ticket:created", true},
		{"ticketing.>", "ticketing", false},
		{"*.ticket:created", "other.ticket:created", true},
		{"ticketing.*", "ticketing.a.b", false},
		{"ticketing.ticket:created", "ticketing.ticket:updated", false},
		{"ticketing.a.b", "ticketing.a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectMatches(tt.pattern, tt.subject), "%s ~ %s", tt.pattern, tt.subject)
	}
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "ticketing.ticket:created", wireSubject("ticketing", messages.TicketCreated))
	assert.Equal(t, "TICKETING_TICKET_CREATED", streamName("ticketing", messages.TicketCreated))
	assert.Equal(t, "TICKETING_TICKET_UPDATED", streamName("ticketing", messages.TicketUpdated))
	assert.Equal(t, "TICKETING_CLIENTS", clientsBucket("ticketing"))
	assert.Equal(t, "a_b_c", sanitizeName("a b.c"))
}

func TestValidateToken(t *testing.T) {
	for _, ok := range []string{"ticket:created", "orders-service", "a_b"} {
		assert.NoError(t, validateToken(ok), ok)
	}
	for _, bad := range []string{"", "ticket created", "ticket.created", "ticket:*", "ticket:>", "\t"} {
		assert.ErrorIs(t, validateToken(bad), ErrInvalidSubject, "%q", bad)
	}
}

func TestStreamConfig(t *testing.T) {
	ch := channel{subject: messages.TicketCreated, wire: "ticketing.ticket:created", stream: "TICKETING_TICKET_CREATED"}

	cfg := defaultChannelConfig().streamConfig(ch)
	assert.Equal(t, "TICKETING_TICKET_CREATED", cfg.Name)
	assert.Equal(t, []string{"ticketing.ticket:created"}, cfg.Subjects)
	assert.Equal(t, jetstream.DiscardOld, cfg.Discard)
	assert.Equal(t, int64(-1), cfg.MaxMsgs)
	assert.Equal(t, int64(-1), cfg.MaxBytes)
	assert.Equal(t, 2*time.Minute, cfg.Duplicates)

	limited := defaultChannelConfig()
	limited.MaxMsgs = 100
	limited.MaxAge = 30 * time.Second
	cfg = limited.streamConfig(ch)
	assert.Equal(t, jetstream.DiscardNew, cfg.Discard)
	assert.Equal(t, int64(100), cfg.MaxMsgs)
	assert.Equal(t, 30*time.Second, cfg.Duplicates, "duplicate window may not exceed max age")
}

func TestChannelCreatesStream(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s)
	ctx := context.Background()

	ch, err := conn.channel(ctx, messages.TicketCreated)
	require.NoError(t, err)
	assert.Equal(t, "TICKETING_TICKET_CREATED", ch.stream)

	again, err := conn.channel(ctx, messages.TicketCreated)
	require.NoError(t, err)
	assert.Equal(t, ch, again)

	info, err := conn.JetStream().Stream(ctx, ch.stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"ticketing.ticket:created"}, info.CachedInfo().Config.Subjects)
}

func TestChannelConflict(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s)
	other := connect(t, s)
	ctx := context.Background()

	_, err := conn.channel(ctx, "ticket:created")
	require.NoError(t, err)

	_, err = conn.channel(ctx, "ticket_created")
	assert.ErrorIs(t, err, ErrChannelConflict)

	_, err = other.channel(ctx, "ticket_created")
	assert.ErrorIs(t, err, ErrChannelConflict, "stream already carries another subject")

	_, err = conn.channel(ctx, "ticket created")
	assert.ErrorIs(t, err, ErrInvalidSubject)
}
