package handlers

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// overlapConn trips if two goroutines ever write it at the same time.
// Gorilla connections panic in that situation, so every write must go
// through the hub loop.
type overlapConn struct {
	writers int32
	overlap int32
	writes  int64
}

func (c *overlapConn) WriteJSON(interface{}) error {
	if atomic.AddInt32(&c.writers, 1) > 1 {
		atomic.StoreInt32(&c.overlap, 1)
	}
	time.Sleep(100 * time.Microsecond)
	atomic.AddInt32(&c.writers, -1)
	atomic.AddInt64(&c.writes, 1)
	return nil
}

func (c *overlapConn) ReadJSON(interface{}) error { return errors.New("read not supported") }

func (c *overlapConn) Close() error { return nil }

func TestHubSerializesAcksAndBroadcasts(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := &overlapConn{}
	client := &Client{
		Identity: models.Identity{UserID: "u1"},
		GameCode: models.GameCodeCrash,
		Conn:     conn,
	}
	hub.register <- client
	hub.join <- client

	// Acks, game broadcasts and balance pushes race from three
	// goroutines; the hub must write them one at a time.
	const n = 50
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			hub.Reply(client, &Message{Type: "betResult"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			hub.PublishState(models.GameCodeCrash, &models.PublicState{Status: models.RoundStatusWait})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			hub.PublishBalance("u1", "USD", decimal.NewFromInt(100))
		}
	}()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&conn.writes) < 3*n {
		if time.Now().After(deadline) {
			t.Fatalf("writes = %d, want %d", atomic.LoadInt64(&conn.writes), 3*n)
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&conn.overlap) != 0 {
		t.Fatal("two goroutines wrote the connection concurrently")
	}
}
