// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connpool

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys from OTel semantic conventions:
// - semconv.DBClientConnectionPoolNameKey = "db.client.connection.pool.name"
// - semconv.DBClientConnectionStateKey = "db.client.connection.state"
const (
	attrKeyPoolName = "db.client.connection.pool.name"
	attrKeyState    = "db.client.connection.state"

	stateIdle = "idle"
	stateUsed = "used"
)

// Metrics holds the OTel instruments a pool reports to. The zero value
// records nothing.
type Metrics struct {
	connCount metric.Int64UpDownCounter
	timeouts  metric.Int64Counter
	waitTime  metric.Float64Histogram
}

// NewMetrics creates the pool instruments on m using the standard
// db.client.connection.* names. Instruments that fail to initialize are
// left unset and reported in the returned error.
func NewMetrics(m metric.Meter) (Metrics, error) {
	var (
		out  Metrics
		errs []error
		err  error
	)

	out.connCount, err = m.Int64UpDownCounter(
		"db.client.connection.count",
		metric.WithDescription("The number of connections that are currently in state described by the state attribute."),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("db.client.connection.count: %w", err))
	}

	out.timeouts, err = m.Int64Counter(
		"db.client.connection.timeouts",
		metric.WithDescription("The number of connection timeouts that have occurred trying to obtain a connection from the pool."),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("db.client.connection.timeouts: %w", err))
	}

	out.waitTime, err = m.Float64Histogram(
		"db.client.connection.wait_time",
		metric.WithDescription("The time it took to obtain an open connection from the pool."),
		metric.WithUnit("s"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("db.client.connection.wait_time: %w", err))
	}

	return out, errors.Join(errs...)
}

func (m Metrics) addConns(ctx context.Context, delta int64, poolName, state string) {
	if m.connCount == nil || delta == 0 {
		return
	}
	m.connCount.Add(ctx, delta, metric.WithAttributes(
		attribute.String(attrKeyPoolName, poolName),
		attribute.String(attrKeyState, state),
	))
}

func (m Metrics) recordTimeout(ctx context.Context, poolName string) {
	if m.timeouts == nil {
		return
	}
	m.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKeyPoolName, poolName)))
}

func (m Metrics) recordWait(ctx context.Context, seconds float64, poolName string) {
	if m.waitTime == nil {
		return
	}
	m.waitTime.Record(ctx, seconds, metric.WithAttributes(attribute.String(attrKeyPoolName, poolName)))
}
