package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestCountersRecordAttributes(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tel, err := NewWithMeterProvider(mp)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	tel.RecordLoginAttempt(ctx, LoginSuccess)
	tel.RecordLoginAttempt(ctx, LoginSuccess)
	tel.RecordLoginAttempt(ctx, LoginInvalidCredentials)
	tel.RecordRecordMutation(ctx, "create", true)

	sums := collect(t, reader)

	logins := sums["wayleave_login_attempts_total"]
	require.Len(t, logins.DataPoints, 2)
	for _, dp := range logins.DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		switch outcome.AsString() {
		case LoginSuccess:
			assert.Equal(t, int64(2), dp.Value)
		case LoginInvalidCredentials:
			assert.Equal(t, int64(1), dp.Value)
		default:
			t.Fatalf("unexpected outcome %q", outcome.AsString())
		}
	}

	mutations := sums["wayleave_record_mutations_total"]
	require.Len(t, mutations.DataPoints, 1)
	op, _ := mutations.DataPoints[0].Attributes.Value(attribute.Key("operation"))
	assert.Equal(t, "create", op.AsString())
}

func TestDisabledIsNoop(t *testing.T) {
	tel := Disabled()
	assert.False(t, tel.IsEnabled())
	tel.RecordLoginAttempt(context.Background(), LoginSuccess)
	tel.RecordRecordMutation(context.Background(), "delete", false)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
