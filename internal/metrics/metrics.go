// Package metrics counts terminal payload outcomes in CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/awsx"
)

const namespace = "PayFlow"

// Emitter publishes one count per terminal resolution, dimensioned by flow
// kind and outcome. Emission is best effort and never blocks a flow.
type Emitter struct {
	client  awsx.CloudWatchAPI
	nowFunc func() time.Time
	log     logrus.FieldLogger
}

func NewEmitter(client awsx.CloudWatchAPI, log logrus.FieldLogger) *Emitter {
	return &Emitter{client: client, nowFunc: time.Now, log: log}
}

// TerminalOutcome records that a flow of the given kind ended in the given
// state (signed, cancelled, expired, timed_out).
func (e *Emitter) TerminalOutcome(ctx context.Context, kind, state string) {
	if e == nil || e.client == nil {
		return
	}
	now := e.nowFunc()
	one := 1.0
	name := "PayloadResolved"
	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: strPtr(namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Timestamp:  &now,
				Value:      &one,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: strPtr("Kind"), Value: strPtr(kind)},
					{Name: strPtr("Outcome"), Value: strPtr(state)},
				},
			},
		},
	})
	if err != nil {
		e.log.WithError(err).Warn("failed to put outcome metric")
	}
}

func strPtr(s string) *string { return &s }
