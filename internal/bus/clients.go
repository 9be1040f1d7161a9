package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/xid"
)

var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewClientID returns a fresh, randomized client id. Every process instance
// must connect with its own id.
func NewClientID() string {
	return xid.New().String()
}

func validateClientID(id string) error {
	if !clientIDRegex.MatchString(id) {
		return fmt.Errorf("client id %q must contain only alphanumeric characters, hyphens, and underscores", id)
	}
	return nil
}

// clientRegistry records which client ids belong to live connections.
type clientRegistry interface {
	Claim(ctx context.Context, id string, info []byte) (uint64, error)
	Refresh(ctx context.Context, id string, info []byte, rev uint64) (uint64, error)
	Release(ctx context.Context, id string) error
}

// kvClientRegistry keeps claims in a KV bucket whose entries expire unless
// refreshed, so a crashed process frees its id after the TTL.
type kvClientRegistry struct {
	kv jetstream.KeyValue
}

func clientsBucket(clusterID string) string {
	return strings.ToUpper(sanitizeName(clusterID)) + "_CLIENTS"
}

// newKVClientRegistry opens the cluster's claim bucket. The bucket is shared
// by every client of the cluster, so its TTL only ever grows: a client with a
// short heartbeat must not expire the claims of one with a longer heartbeat.
func newKVClientRegistry(ctx context.Context, js jetstream.JetStream, clusterID string, ttl time.Duration) (*kvClientRegistry, error) {
	bucket := clientsBucket(clusterID)
	kv, err := js.KeyValue(ctx, bucket)
	switch {
	case errors.Is(err, jetstream.ErrBucketNotFound):
	case err != nil:
		return nil, fmt.Errorf("client registry bucket: %w", err)
	default:
		status, err := kv.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("client registry bucket status: %w", err)
		}
		if status.TTL() >= ttl {
			return &kvClientRegistry{kv: kv}, nil
		}
	}

	kv, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "live client ids of cluster " + clusterID,
		History:     1,
		TTL:         ttl,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("client registry bucket: %w", err)
	}
	return &kvClientRegistry{kv: kv}, nil
}

func (r *kvClientRegistry) Claim(ctx context.Context, id string, info []byte) (uint64, error) {
	rev, err := r.kv.Create(ctx, id, info)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return 0, fmt.Errorf("%q: %w", id, ErrClientIDInUse)
	}
	if err != nil {
		return 0, fmt.Errorf("claim client id %q: %w", id, err)
	}
	return rev, nil
}

func (r *kvClientRegistry) Refresh(ctx context.Context, id string, info []byte, rev uint64) (uint64, error) {
	return r.kv.Update(ctx, id, info, rev)
}

func (r *kvClientRegistry) Release(ctx context.Context, id string) error {
	return r.kv.Delete(ctx, id)
}

type clientInfo struct {
	ClientID    string    `json:"client_id"`
	ClusterID   string    `json:"cluster_id"`
	Host        string    `json:"host"`
	PID         int       `json:"pid"`
	ConnectedAt time.Time `json:"connected_at"`
}

func newClientInfo(clusterID, clientID string) []byte {
	host, _ := os.Hostname()
	data, _ := json.Marshal(clientInfo{
		ClientID:    clientID,
		ClusterID:   clusterID,
		Host:        host,
		PID:         os.Getpid(),
		ConnectedAt: time.Now().UTC(),
	})
	return data
}

// presence holds a client id claim and refreshes it until stopped.
type presence struct {
	reg   clientRegistry
	id    string
	info  []byte
	every time.Duration
	log   *slog.Logger

	rev      uint64
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func claimPresence(ctx context.Context, reg clientRegistry, id string, info []byte, every time.Duration, log *slog.Logger) (*presence, error) {
	rev, err := reg.Claim(ctx, id, info)
	if err != nil {
		return nil, err
	}
	p := &presence{
		reg:   reg,
		id:    id,
		info:  info,
		every: every,
		log:   log,
		rev:   rev,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *presence) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *presence) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), p.every)
	defer cancel()

	rev, err := p.reg.Refresh(ctx, p.id, p.info, p.rev)
	if err == nil {
		p.rev = rev
		return
	}
	// The claim lapsed (e.g. during a long disconnect); take it again if free.
	rev, claimErr := p.reg.Claim(ctx, p.id, p.info)
	if claimErr != nil {
		p.log.Error("Client id heartbeat failed", "client_id", p.id, "err", err, "reclaim_err", claimErr)
		return
	}
	p.log.Warn("Client id claim lapsed and was re-acquired", "client_id", p.id)
	p.rev = rev
}

// halt stops the heartbeat and waits for it to exit.
func (p *presence) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// release stops the heartbeat and frees the id so a restarted process can
// take it immediately.
func (p *presence) release(ctx context.Context) error {
	p.halt()
	if err := p.reg.Release(ctx, p.id); err != nil {
		return fmt.Errorf("release client id %q: %w", p.id, err)
	}
	return nil
}
