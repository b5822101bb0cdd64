//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bytescrape/steward/internal/testutil"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

var testDB *mongo.Database

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewMongoContainer(ctx)
	if err != nil {
		log.Fatalf("start mongodb: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("terminate mongodb: %v", err)
		}
	}()

	client, err := mongo.Connect(options.Client().ApplyURI(container.ConnectionString))
	if err != nil {
		log.Fatalf("connect to mongodb: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		log.Fatalf("ping mongodb: %v", err)
	}

	testDB = client.Database("steward_test")

	code := m.Run()

	if err := client.Disconnect(ctx); err != nil {
		log.Printf("disconnect mongodb: %v", err)
	}

	os.Exit(code)
}
