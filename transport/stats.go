package transport

import (
	"sync"

	"github.com/luma/bean/protocol"
)

// serverStats counts what the store cannot see: connections and commands.
type serverStats struct {
	mu               sync.Mutex
	currentConns     int
	totalConns       int
	currentProducers int
	currentWorkers   int
	commands         map[protocol.Verb]int
}

func newServerStats() *serverStats {
	return &serverStats{commands: make(map[protocol.Verb]int)}
}

func (s *serverStats) connOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentConns++
	s.totalConns++
}

func (s *serverStats) connClosed(producer, worker bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentConns--
	if producer {
		s.currentProducers--
	}
	if worker {
		s.currentWorkers--
	}
}

// command counts verb. The first put and first reserve of a connection make
// it a producer and a worker respectively.
func (s *serverStats) command(verb protocol.Verb, firstPut, firstReserve bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands[verb]++
	if firstPut {
		s.currentProducers++
	}
	if firstReserve {
		s.currentWorkers++
	}
}

// addTo merges the counters into stats from the store.
func (s *serverStats) addTo(stats map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats["current-connections"] = s.currentConns
	stats["total-connections"] = s.totalConns
	stats["current-producers"] = s.currentProducers
	stats["current-workers"] = s.currentWorkers

	for _, verb := range protocol.Verbs() {
		stats["cmd-"+verb.String()] = s.commands[verb]
	}
}
