package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/awsx"
	"github.com/ripplefund/payflow/internal/config"
	"github.com/ripplefund/payflow/internal/escrow"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	clients, err := awsx.NewClients(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}

	store := escrow.NewStore(clients.DynamoDB, cfg.ContributionsTable, cfg.LoansTable)
	// no publisher: replays retry via SQS redelivery, not fresh events
	recorder := escrow.NewMaterializer(store, nil, log)
	p := NewProcessor(recorder, log)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"loan_id":"local-loan-1","funder_id":"local-user-1","amount":25,"txid":"LOCALTX1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.WithError(err).Fatal("local handler error")
		}
		return
	}

	lambda.Start(p.Handle)
}
