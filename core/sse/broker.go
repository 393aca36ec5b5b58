package sse

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrTooManyClients is returned by Subscribe when the broker is full.
var ErrTooManyClients = errors.New("sse: max clients reached")

// Client is one subscriber. Events arrive on Events until the client is
// unsubscribed or the broker closes.
type Client struct {
	ID     string
	Events chan *Event

	closeOnce sync.Once
}

// NewClient creates a client with a buffered event channel.
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Client{ID: id, Events: make(chan *Event, bufferSize)}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Events) })
}

// send delivers event without blocking. Slow clients drop events.
func (c *Client) send(event *Event) bool {
	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}

// Broker fans published events out to subscribed clients.
type Broker struct {
	namespace  string
	maxClients int
	bufferSize int

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	eventID      atomic.Uint64
	totalClients atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
}

// NewBroker creates a broker. Event IDs are prefixed by namespace.
func NewBroker(namespace string, maxClients int) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	return &Broker{
		namespace:  namespace,
		maxClients: maxClients,
		bufferSize: 100,
		clients:    make(map[string]*Client),
	}
}

// Subscribe registers a new client under id.
func (b *Broker) Subscribe(id string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("sse: broker closed")
	}
	if len(b.clients) >= b.maxClients {
		return nil, errors.Wrapf(ErrTooManyClients, "limit %d", b.maxClients)
	}
	if old, ok := b.clients[id]; ok {
		old.close()
	}
	c := NewClient(id, b.bufferSize)
	b.clients[id] = c
	b.totalClients.Add(1)
	return c, nil
}

// Unsubscribe removes c and closes its channel.
func (b *Broker) Unsubscribe(c *Client) {
	b.mu.Lock()
	if cur, ok := b.clients[c.ID]; ok && cur == c {
		delete(b.clients, c.ID)
	}
	b.mu.Unlock()
	c.close()
}

func (b *Broker) nextID() string {
	id := strconv.FormatUint(b.eventID.Add(1), 10)
	if b.namespace == "" {
		return id
	}
	return b.namespace + "-" + id
}

// Publish sends event to every client, assigning an ID when it has none.
// It returns the number of clients that received it.
func (b *Broker) Publish(event *Event) int {
	if event.ID == "" {
		event.ID = b.nextID()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.clients {
		if c.send(event) {
			n++
		} else {
			b.dropped.Add(1)
		}
	}
	return n
}

// PublishTo sends event to one client.
func (b *Broker) PublishTo(id string, event *Event) bool {
	if event.ID == "" {
		event.ID = b.nextID()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	if !ok {
		return false
	}
	if !c.send(event) {
		b.dropped.Add(1)
		return false
	}
	return true
}

// ClientCount returns the number of subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, c := range b.clients {
		c.close()
		delete(b.clients, id)
	}
}

// BrokerStats counts broker traffic.
type BrokerStats struct {
	Namespace      string `json:"namespace"`
	TotalClients   int64  `json:"total_clients"`
	CurrentClients int    `json:"current_clients"`
	Published      int64  `json:"messages_sent"`
	Dropped        int64  `json:"messages_dropped"`
}

func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Namespace:      b.namespace,
		TotalClients:   b.totalClients.Load(),
		CurrentClients: b.ClientCount(),
		Published:      b.published.Load(),
		Dropped:        b.dropped.Load(),
	}
}
