package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesPrometheus(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test", SampleRatio: 0.5})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	m.RecordTurn(context.Background(), "sync", "complete")

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"neulbom_turns", "go_goroutines", "process_"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestTelemetry_ShutdownJoinsErrors(t *testing.T) {
	calls := 0
	tel := &Telemetry{shutdown: []func(context.Context) error{
		func(context.Context) error { calls++; return io.EOF },
		func(context.Context) error { calls++; return nil },
	}}
	if err := tel.Shutdown(context.Background()); err == nil || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
