package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/awsx"
	"github.com/ripplefund/payflow/internal/config"
	"github.com/ripplefund/payflow/internal/escrow"
	"github.com/ripplefund/payflow/internal/flow"
	"github.com/ripplefund/payflow/internal/handlers"
	"github.com/ripplefund/payflow/internal/metrics"
	"github.com/ripplefund/payflow/internal/resume"
	"github.com/ripplefund/payflow/internal/session"
	"github.com/ripplefund/payflow/internal/wallet"
	"github.com/ripplefund/payflow/internal/xrpl"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterPayFlowRoutes(r, cfg)

	return r
}

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

	walletClient := wallet.NewClient(cfg.WalletAPIURL, cfg.WalletAPIKey, cfg.WalletAPISecret)
	slot := resume.NewFileStore(cfg.ResumeFile)

	auth := session.NewGoTrueClient(cfg.AuthBaseURL, cfg.AuthAnonKey)
	profiles := session.NewDynamoProfileStore(clients.DynamoDB, cfg.ProfilesTable)
	sessions := session.NewMaterializer(auth, profiles, cfg.DeriveSecret, log)

	escrowStore := escrow.NewStore(clients.DynamoDB, cfg.ContributionsTable, cfg.LoansTable)
	reconcile := awsx.NewPublisher(clients.SQS, cfg.ReconcileQueueURL)
	contributions := escrow.NewMaterializer(escrowStore, reconcile, log)

	coordinator := flow.NewCoordinator(
		walletClient,
		walletClient,
		slot,
		sessions,
		contributions,
		flow.Config{
			MaxAttempts:  cfg.PollMaxAttempts,
			Interval:     cfg.PollInterval,
			InitialDelay: cfg.PollInitialDelay,
		},
		nil, // API clients render the deep link themselves
		metrics.NewEmitter(clients.CloudWatch, log),
		log,
	)

	r := setupRouter(handlers.HandlerConfig{
		Coordinator: coordinator,
		Ledger:      xrpl.NewClient(cfg.XRPLRPCURL),
		Log:         log,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.WithField("addr", addr).Info("running local server")
		if err := r.Run(addr); err != nil {
			log.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
