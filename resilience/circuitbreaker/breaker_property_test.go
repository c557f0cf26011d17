package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/BaSui01/provisionflow/testutil"
)

// Property: an open breaker never invokes the operation before its timeout,
// and the counters stay within their thresholds.
func TestProperty_StateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			FailureThreshold: rapid.IntRange(1, 6).Draw(t, "failureThreshold"),
			SuccessThreshold: rapid.IntRange(1, 4).Draw(t, "successThreshold"),
			Timeout:          time.Duration(rapid.IntRange(1, 120).Draw(t, "timeoutSeconds")) * time.Second,
		}
		clock := testutil.NewClock(epoch)
		b := New("svc", cfg, WithClock(clock.Now))

		steps := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 80).Draw(t, "steps")
		for _, step := range steps {
			before := b.Stats()
			invoked := false
			var err error
			switch step {
			case 0:
				err = b.Execute(context.Background(), func(context.Context) error { invoked = true; return nil })
			case 1:
				err = b.Execute(context.Background(), func(context.Context) error { invoked = true; return errDependency })
			default:
				clock.Advance(time.Duration(rapid.IntRange(0, 90).Draw(t, "advance")) * time.Second)
				continue
			}

			if before.State == StateOpen && clock.Now().Before(before.NextAttemptTime) {
				if invoked {
					t.Fatalf("operation invoked while open")
				}
				if err == nil {
					t.Fatalf("expected open error")
				}
			}

			after := b.Stats()
			if after.State == StateClosed && after.FailureCount >= cfg.FailureThreshold {
				t.Fatalf("closed with %d failures (threshold %d)", after.FailureCount, cfg.FailureThreshold)
			}
			if after.State == StateHalfOpen && after.SuccessCount >= cfg.SuccessThreshold {
				t.Fatalf("half-open with %d successes (threshold %d)", after.SuccessCount, cfg.SuccessThreshold)
			}
			if after.State == StateOpen && after.NextAttemptTime.IsZero() {
				t.Fatalf("open without next attempt time")
			}
		}
	})
}
