package ipc

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_EventsRoundTripOverPipe(t *testing.T) {
	r, w := io.Pipe()
	enc := NewEncoder(w)
	dec := NewDecoder(r)

	pnl := decimal.RequireFromString("9.874")
	go func() {
		_ = enc.Encode(Event{Type: EventReady, SimulationID: "s1", PID: 42, Time: time.Now().UTC()})
		_ = enc.Encode(Event{Type: EventTrade, SimulationID: "s1", Trade: &Trade{TradeID: "t1", Action: "close_long", RealizedPnL: &pnl}})
		_ = w.Close()
	}()

	var ev Event
	require.NoError(t, dec.Decode(&ev))
	assert.Equal(t, EventReady, ev.Type)
	assert.Equal(t, 42, ev.PID)

	ev = Event{}
	require.NoError(t, dec.Decode(&ev))
	require.NotNil(t, ev.Trade)
	assert.True(t, ev.Trade.RealizedPnL.Equal(pnl))

	assert.Equal(t, io.EOF, dec.Decode(&ev))
}

func TestDecoder_SkipsBlankAndReportsMalformed(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n  \n{oops\n{\"type\":\"stop\"}\n"))
	var cmd Command
	err := dec.Decode(&cmd)
	assert.True(t, errors.Is(err, ErrMalformed))

	require.NoError(t, dec.Decode(&cmd))
	assert.Equal(t, CommandStop, cmd.Type)
	assert.True(t, cmd.Type.Valid())
	assert.False(t, CommandType("restart").Valid())
}

func TestEncoder_ConcurrentWritesStayLineAligned(t *testing.T) {
	var sb safeBuilder
	enc := NewEncoder(&sb)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.Encode(Event{Type: EventHeartbeat, SimulationID: "s1", Message: strings.Repeat("x", 200)})
		}()
	}
	wg.Wait()

	dec := NewDecoder(strings.NewReader(sb.String()))
	n := 0
	for {
		var ev Event
		err := dec.Decode(&ev)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 20, n)
}

type safeBuilder struct {
	mu sync.Mutex
	sb strings.Builder
}

func (s *safeBuilder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.Write(p)
}

func (s *safeBuilder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.String()
}
