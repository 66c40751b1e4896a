// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Initial reference and motivation taken from
// https://gitlab.com/project-emco/core/emco-base/-/blob/main/src/orchestrator/pkg/infra/db

package db

import (
	"context"
	"net"
	"strconv"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/go-core-stack/throttle/errors"
)

// StoreClient is a connection to the database server holding the rate
// profiles
type StoreClient interface {
	// Profiles returns the profile table in the given database
	Profiles(dbName string) *ProfileTable

	// Health Check, if the Store is connectable and healthy
	// returns the status of health of the server by means of
	// error if error is nil the health of the DB store can be
	// considered healthy
	HealthCheck(ctx context.Context) error

	// Close disconnects from the server
	Close(ctx context.Context) error
}

type mongoClient struct {
	client *mongo.Client
}

type MongoConfig struct {
	Host     string
	Port     string
	Uri      string
	Username string
	Password string
}

func (c *MongoConfig) validate() error {
	if c.Uri != "" {
		if c.Host != "" || c.Port != "" {
			return errors.Wrap(errors.InvalidArgument, "cannot provide host and port if uri is configured")
		}
	} else {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == "" || c.Port == "0" {
			c.Port = "27017"
		} else {
			if _, err := strconv.Atoi(c.Port); err != nil {
				return errors.Wrap(errors.InvalidArgument, "invalid database port")
			}
		}
	}
	return nil
}

// uri returns the connection string, validate must have been called
func (c *MongoConfig) uri() string {
	if c.Uri != "" {
		return c.Uri
	}
	return "mongodb://" + net.JoinHostPort(c.Host, c.Port)
}

// clientOptions builds the driver options for the config, commands are
// traced through the global otel tracer provider
func (c *MongoConfig) clientOptions() *options.ClientOptions {
	clientOptions := options.Client().
		ApplyURI(c.uri()).
		SetAppName(defaultAppName).
		SetMonitor(otelmongo.NewMonitor())
	if c.Username != "" {
		clientOptions.SetAuth(options.Credential{
			AuthMechanism: "SCRAM-SHA-256",
			AuthSource:    "admin",
			Username:      c.Username,
			Password:      c.Password,
		})
	}

	// profiles drive live limiter configuration, make sure an acknowledged
	// write survives a primary failover
	journal := true
	wc := writeconcern.Majority()
	wc.Journal = &journal
	clientOptions.SetWriteConcern(wc)
	return clientOptions
}

// NewMongoClient connects to the server described by conf. The driver
// connects lazily, use HealthCheck to verify reachability.
func NewMongoClient(ctx context.Context, conf *MongoConfig) (StoreClient, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, conf.clientOptions())
	if err != nil {
		return nil, err
	}
	return &mongoClient{
		client: client,
	}, nil
}

func (c *mongoClient) Profiles(dbName string) *ProfileTable {
	if dbName == "" {
		dbName = DefaultDatabase
	}
	return &ProfileTable{
		col: &mongoCollection{
			col: c.client.Database(dbName).Collection(ProfileCollection),
		},
	}
}

func (c *mongoClient) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *mongoClient) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// interprets mongo db error and returns library parsable error codes
func interpretMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(errors.AlreadyExists, err.Error())
	}
	if err == mongo.ErrNoDocuments {
		return errors.Wrap(errors.NotFound, err.Error())
	}
	return err
}
