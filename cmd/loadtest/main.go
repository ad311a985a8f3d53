// Command loadtest drives a courier server with synthetic messaging
// traffic: N users register, pair up, and exchange messages at a steady
// rate while a reporter prints throughput and latency each second.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/courierchat/courier/pkg/client"
)

const loremIpsum = "lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua ut enim ad minim veniam quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat"

var loremWords = strings.Fields(loremIpsum)

func randomSentence(r *rand.Rand) string {
	n := 3 + r.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[r.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats aggregates counters across all workers.
type Stats struct {
	messagesSent      atomic.Int64
	messagesFailed    atomic.Int64
	pushesReceived    atomic.Int64
	historyFetches    atomic.Int64
	connectionErrors  atomic.Int64
	totalResponseTime atomic.Int64 // microseconds
}

func (s *Stats) recordSend(elapsed time.Duration) {
	s.messagesSent.Add(1)
	s.totalResponseTime.Add(elapsed.Microseconds())
}

func (s *Stats) snapshot() (sent, failed, pushes int64, avgResponseUs float64) {
	sent = s.messagesSent.Load()
	failed = s.messagesFailed.Load()
	pushes = s.pushesReceived.Load()
	if sent > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(sent)
	}
	return
}

// worker is one synthetic user: it registers, logs in, adds its peer as a
// contact, then alternates sends with occasional history fetches.
type worker struct {
	id       int
	username string
	peer     string
	conn     *client.Connection
	stats    *Stats
	rng      *rand.Rand
}

func newWorker(id int, runID string, serverAddr string, stats *Stats) (*worker, error) {
	conn, err := client.Dial(serverAddr)
	if err != nil {
		return nil, err
	}

	// Pair workers 0-1, 2-3, ... so every message has a real receiver.
	peerID := id ^ 1

	return &worker{
		id:       id,
		username: fmt.Sprintf("load_%s_%d", runID, id),
		peer:     fmt.Sprintf("load_%s_%d", runID, peerID),
		conn:     conn,
		stats:    stats,
		rng:      rand.New(rand.NewSource(int64(id) + time.Now().UnixNano())),
	}, nil
}

func (w *worker) setup() error {
	if err := w.conn.Register(w.username, "loadtest"); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := w.conn.Login(w.username, "loadtest"); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (w *worker) run(shutdown <-chan struct{}, interval time.Duration) {
	// Drain pushes so the peer's traffic never backs up the stream.
	go func() {
		for range w.conn.Pushes() {
			w.stats.pushesReceived.Add(1)
		}
	}()

	// The peer may not have registered yet; retry until it exists.
	for {
		if err := w.conn.AddContact(w.username, w.peer); err == nil {
			break
		}
		select {
		case <-shutdown:
			return
		case <-time.After(200 * time.Millisecond):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := w.conn.SendMessage(w.username, w.peer, randomSentence(w.rng)); err != nil {
			w.stats.messagesFailed.Add(1)
			continue
		}
		w.stats.recordSend(time.Since(start))

		// Roughly one history fetch per ten sends.
		if w.rng.Intn(10) == 0 {
			if _, err := w.conn.Messages(w.username, w.peer); err == nil {
				w.stats.historyFetches.Add(1)
			}
		}
	}
}

func main() {
	serverAddr := flag.String("server", "localhost:5000", "Server address (host:port, or ws://host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients (rounded up to even)")
	rate := flag.Float64("rate", 1.0, "Messages per second per client")
	duration := flag.Duration("duration", 0, "Test duration (0 = run until interrupted)")
	flag.Parse()

	clients := *numClients
	if clients%2 != 0 {
		clients++
	}
	interval := time.Duration(float64(time.Second) / *rate)
	runID := fmt.Sprintf("%x", time.Now().Unix()&0xffffff)

	stats := &Stats{}
	shutdown := make(chan struct{})
	var wg sync.WaitGroup

	fmt.Printf("Starting %d clients against %s (%.1f msg/s each)\n", clients, *serverAddr, *rate)

	workers := make([]*worker, 0, clients)
	for i := 0; i < clients; i++ {
		w, err := newWorker(i, runID, *serverAddr, stats)
		if err != nil {
			stats.connectionErrors.Add(1)
			fmt.Fprintf(os.Stderr, "client %d: connect failed: %v\n", i, err)
			continue
		}
		if err := w.setup(); err != nil {
			fmt.Fprintf(os.Stderr, "client %d: setup failed: %v\n", i, err)
			w.conn.Close()
			continue
		}
		workers = append(workers, w)
	}
	fmt.Printf("%d/%d clients connected\n", len(workers), clients)

	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(shutdown, interval)
		}(w)
	}

	// Reporter
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var lastSent int64
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				sent, failed, pushes, avgUs := stats.snapshot()
				fmt.Printf("sent=%d (+%d/s) failed=%d pushes=%d avg=%.1fms\n",
					sent, sent-lastSent, failed, pushes, avgUs/1000)
				lastSent = sent
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *duration > 0 {
		select {
		case <-sigCh:
		case <-time.After(*duration):
		}
	} else {
		<-sigCh
	}

	fmt.Println("Stopping...")
	close(shutdown)
	wg.Wait()
	for _, w := range workers {
		w.conn.Close()
	}

	sent, failed, pushes, avgUs := stats.snapshot()
	fmt.Printf("\nTotal: sent=%d failed=%d pushes=%d history=%d avg=%.1fms\n",
		sent, failed, pushes, stats.historyFetches.Load(), avgUs/1000)
}
