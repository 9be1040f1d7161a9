package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"ticketing/internal/messages"

	"github.com/nats-io/nats.go/jetstream"
)

// ChannelConfig holds the limits applied when a channel's stream is first
// created. Zero limits mean unlimited. When any limit is set the channel
// rejects new messages once full instead of discarding old ones.
type ChannelConfig struct {
	Storage    jetstream.StorageType
	Replicas   int
	MaxMsgs    int64
	MaxBytes   int64
	MaxAge     time.Duration
	Duplicates time.Duration // de-duplication window for message ids
}

func defaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Storage:    jetstream.FileStorage,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	}
}

// channel is a subject bound to the stream that stores it.
type channel struct {
	subject messages.Subject
	wire    string
	stream  string
}

// validateToken reports whether s can be used as a single subject token.
func validateToken(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if i := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '*' || r == '>'
	}); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidSubject, s, s[i])
	}
	return nil
}

// wireSubject scopes a subject to the cluster: "ticketing" + "ticket:created"
// becomes "ticketing.ticket:created".
func wireSubject(clusterID string, subject messages.Subject) string {
	return clusterID + "." + string(subject)
}

// streamName derives a stream name that is valid for JetStream, e.g.
// "TICKETING_TICKET_CREATED".
func streamName(clusterID string, subject messages.Subject) string {
	return strings.ToUpper(sanitizeName(clusterID + "_" + string(subject)))
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// subjectMatches reports whether a subject matches a pattern that can include
// NATS wildcards * (one token) and > (greedy remainder).
func subjectMatches(pattern, subj string) bool {
	if pattern == subj {
		return true
	}
	pTok := strings.Split(pattern, ".")
	sTok := strings.Split(subj, ".")
	for i, pt := range pTok {
		switch pt {
		case ">":
			return i < len(sTok)
		case "*":
			if i >= len(sTok) {
				return false
			}
			continue
		}
		if i >= len(sTok) {
			return false
		}
		if pt != sTok[i] {
			return false
		}
	}
	return len(sTok) == len(pTok)
}

func (cfg ChannelConfig) streamConfig(ch channel) jetstream.StreamConfig {
	limit := func(v int64) int64 {
		if v <= 0 {
			return -1
		}
		return v
	}
	discard := jetstream.DiscardOld
	if cfg.MaxMsgs > 0 || cfg.MaxBytes > 0 || cfg.MaxAge > 0 {
		discard = jetstream.DiscardNew
	}
	dup := cfg.Duplicates
	if cfg.MaxAge > 0 && dup > cfg.MaxAge {
		dup = cfg.MaxAge
	}
	return jetstream.StreamConfig{
		Name:        ch.stream,
		Description: "channel " + string(ch.subject),
		Subjects:    []string{ch.wire},
		Retention:   jetstream.LimitsPolicy,
		Storage:     cfg.Storage,
		Replicas:    max(cfg.Replicas, 1),
		MaxMsgs:     limit(cfg.MaxMsgs),
		MaxBytes:    limit(cfg.MaxBytes),
		MaxAge:      cfg.MaxAge,
		Discard:     discard,
		Duplicates:  dup,
	}
}

// channel returns the stream backing subject, creating it on first use.
func (c *Conn) channel(ctx context.Context, subject messages.Subject) (channel, error) {
	if err := validateToken(string(subject)); err != nil {
		return channel{}, err
	}
	ch := channel{
		subject: subject,
		wire:    wireSubject(c.clusterID, subject),
		stream:  streamName(c.clusterID, subject),
	}

	if v, ok := c.channels.Load(ch.stream); ok {
		known := v.(channel)
		if known.subject != subject {
			return channel{}, fmt.Errorf("%q and %q share stream %s: %w", known.subject, subject, ch.stream, ErrChannelConflict)
		}
		return known, nil
	}

	stream, err := c.js.CreateStream(ctx, c.opts.Channel.streamConfig(ch))
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		stream, err = c.js.Stream(ctx, ch.stream)
	}
	if err != nil {
		return channel{}, fmt.Errorf("ensure channel %s: %w", subject, err)
	}

	covered := false
	for _, pattern := range stream.CachedInfo().Config.Subjects {
		if subjectMatches(pattern, ch.wire) {
			covered = true
			break
		}
	}
	if !covered {
		return channel{}, fmt.Errorf("stream %s does not carry %s: %w", ch.stream, ch.wire, ErrChannelConflict)
	}

	if v, loaded := c.channels.LoadOrStore(ch.stream, ch); loaded && v.(channel).subject != subject {
		return channel{}, fmt.Errorf("%q and %q share stream %s: %w", v.(channel).subject, subject, ch.stream, ErrChannelConflict)
	}
	c.log.Debug("channel ready", "subject", subject, "stream", ch.stream, "wire_subject", ch.wire)
	return ch, nil
}
