package api

import (
	"testing"
	"time"

	"github.com/quantdesk/rotation-backend/internal/backtester"
	"github.com/quantdesk/rotation-backend/internal/strategy"
	"go.uber.org/zap"
)

// Every backtest launches one progress forwarder. The engine never closes its
// progress channel, so the forwarder must exit on the done signal or it leaks
// for the life of the process.
func TestForwardProgressExitsWhenRunFinishes(t *testing.T) {
	s := &Server{logger: zap.NewNop()}
	engine := backtester.NewEngine(zap.NewNop(), strategy.NewRegistry())

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		s.forwardProgress(engine, done)
		close(exited)
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("progress forwarder still running after the backtest finished")
	}
}
