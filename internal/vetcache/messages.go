package vetcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type MessageType string

const (
	MsgSkipWaiting              MessageType = "SKIP_WAITING"
	MsgClearCache               MessageType = "CLEAR_CACHE"
	MsgGetCacheSize             MessageType = "GET_CACHE_SIZE"
	MsgCheckStorageQuota        MessageType = "CHECK_STORAGE_QUOTA"
	MsgRequestPersistentStorage MessageType = "REQUEST_PERSISTENT_STORAGE"
)

// Message is a control-plane request.
type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// Reply carries the payload for one message. Only the field belonging to
// the message type is encoded.
type Reply struct {
	Type MessageType
	ID   string

	CacheSize         int64
	StorageEstimate   *Estimate
	PersistentStorage bool
	Err               string
}

func (r Reply) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	switch {
	case r.Err != "":
		out["error"] = r.Err
	case r.Type == MsgGetCacheSize:
		out["cacheSize"] = r.CacheSize
	case r.Type == MsgCheckStorageQuota:
		out["storageEstimate"] = r.StorageEstimate
	case r.Type == MsgRequestPersistentStorage:
		out["persistentStorage"] = r.PersistentStorage
	}
	return json.Marshal(out)
}

// Port is a single-use reply channel. The first Post wins; later posts are
// refused.
type Port struct {
	ch   chan Reply
	once sync.Once
}

func NewPort() *Port {
	return &Port{ch: make(chan Reply, 1)}
}

// Post delivers r and reports whether it was the port's first reply.
func (p *Port) Post(r Reply) bool {
	sent := false
	p.once.Do(func() {
		p.ch <- r
		sent = true
	})
	return sent
}

func (p *Port) Receive(ctx context.Context) (Reply, error) {
	select {
	case r := <-p.ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

type envelope struct {
	msg  Message
	port *Port
}

// PostMessage queues msg for the worker's message loop. The reply, if any,
// arrives on port; a nil port means the sender does not want one.
func (w *Worker) PostMessage(msg Message, port *Port) error {
	w.postMu.RLock()
	defer w.postMu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.messages <- envelope{msg: msg, port: port}:
		return nil
	case <-w.stopCh:
		return ErrClosed
	}
}

// Call sends a message of type t and waits for its reply.
func (w *Worker) Call(ctx context.Context, t MessageType) (Reply, error) {
	msg := Message{Type: t, ID: newMessageID()}
	port := NewPort()
	if err := w.PostMessage(msg, port); err != nil {
		return Reply{}, err
	}
	return port.Receive(ctx)
}

func (w *Worker) messageLoop(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case env := <-w.messages:
			w.deliver(env, w.handleMessage(ctx, env.msg))
		}
	}
}

func (w *Worker) deliver(env envelope, reply Reply) {
	if env.port == nil {
		return
	}
	if !env.port.Post(reply) {
		w.log.Warn().Str("type", string(env.msg.Type)).Str("id", env.msg.ID).Msg("Reply port already used, dropping reply")
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) Reply {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	reply := Reply{Type: msg.Type, ID: msg.ID}
	log := w.log.With().Str("type", string(msg.Type)).Str("id", msg.ID).Logger()
	log.Debug().Msg("Message received")

	switch msg.Type {
	case MsgSkipWaiting:
		if err := w.SkipWaiting(ctx); err != nil {
			log.Warn().Err(err).Msg("Skip waiting failed")
		}
	case MsgClearCache:
		if err := w.caches.ClearAll(); err != nil {
			log.Error().Err(err).Msg("Clear cache failed")
			reply.Err = err.Error()
		}
	case MsgGetCacheSize:
		size, err := w.caches.TotalSize()
		if err != nil {
			log.Error().Err(err).Msg("Cache size failed")
			reply.Err = err.Error()
		}
		reply.CacheSize = size
	case MsgCheckStorageQuota:
		reply.StorageEstimate = w.caches.CheckQuota(ctx)
	case MsgRequestPersistentStorage:
		reply.PersistentStorage = w.caches.RequestPersistence(ctx)
	default:
		reply.Err = fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type).Error()
		log.Warn().Msg("Unknown message type")
	}
	return reply
}

// drainMessages answers messages still queued when the loop stops.
func (w *Worker) drainMessages() {
	for {
		select {
		case env := <-w.messages:
			w.deliver(env, Reply{Type: env.msg.Type, ID: env.msg.ID, Err: ErrClosed.Error()})
		default:
			return
		}
	}
}

func newMessageID() string {
	return uuid.NewString()
}
