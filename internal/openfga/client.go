// Package openfga mirrors role assignments into an OpenFGA store so other
// services can authorize against them.
package openfga

import (
	"context"
	"fmt"
	"log/slog"

	"wayleave/internal/config"

	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

type Client struct {
	logger *slog.Logger
	fga    *client.OpenFgaClient
	config config.OpenFGAConfig
}

// NewClient connects to OpenFGA. A disabled configuration yields a client
// whose writes are no-ops.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.OpenFGAConfig) (*Client, error) {
	if !cfg.Enabled {
		logger.Info("OpenFGA is disabled")
		return &Client{logger: logger, config: cfg}, nil
	}

	clientCfg := &client.ClientConfiguration{
		ApiUrl:               cfg.APIURL,
		StoreId:              cfg.StoreID,
		AuthorizationModelId: cfg.AuthorizationModelID,
	}
	if cfg.APIToken != "" {
		clientCfg.Credentials = &credentials.Credentials{
			Method: credentials.CredentialsMethodApiToken,
			Config: &credentials.Config{
				ApiToken: cfg.APIToken,
			},
		}
	}

	fgaClient, err := client.NewSdkClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}

	c := &Client{
		logger: logger,
		fga:    fgaClient,
		config: cfg,
	}

	if err := c.verifyConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify OpenFGA connection: %w", err)
	}

	logger.Info("OpenFGA client initialized", "store_id", cfg.StoreID, "model_id", cfg.AuthorizationModelID)
	return c, nil
}

func (c *Client) verifyConnection(ctx context.Context) error {
	response, err := c.fga.GetStore(ctx).Execute()
	if err != nil {
		return fmt.Errorf("failed to get store: %w", err)
	}
	if response.Id != c.config.StoreID {
		return fmt.Errorf("store ID mismatch: expected %s, got %s", c.config.StoreID, response.Id)
	}

	if c.config.AuthorizationModelID == "" {
		return nil
	}
	modelResponse, err := c.fga.ReadAuthorizationModel(ctx).Execute()
	if err != nil {
		return fmt.Errorf("failed to read authorization model: %w", err)
	}
	if modelResponse.AuthorizationModel != nil && modelResponse.AuthorizationModel.Id != c.config.AuthorizationModelID {
		c.logger.Warn("Authorization model ID mismatch",
			"expected", c.config.AuthorizationModelID,
			"actual", modelResponse.AuthorizationModel.Id)
	}
	return nil
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.config.Enabled && c.fga != nil
}

// Check reports whether user holds relation on object. A disabled client
// allows everything.
func (c *Client) Check(ctx context.Context, t Tuple) (bool, error) {
	if !c.IsEnabled() {
		return true, nil
	}

	data, err := c.fga.Check(ctx).Body(client.ClientCheckRequest{
		User:     t.User,
		Relation: t.Relation,
		Object:   t.Object,
	}).Execute()
	if err != nil {
		c.logger.Error("OpenFGA check failed", "user", t.User, "relation", t.Relation, "object", t.Object, "error", err)
		return false, err
	}
	return data.GetAllowed(), nil
}

// Write applies deletes and writes in one request.
func (c *Client) Write(ctx context.Context, writes, deletes []Tuple) error {
	if !c.IsEnabled() || (len(writes) == 0 && len(deletes) == 0) {
		return nil
	}

	body := client.ClientWriteRequest{}
	for _, t := range writes {
		body.Writes = append(body.Writes, client.ClientTupleKey{User: t.User, Relation: t.Relation, Object: t.Object})
	}
	for _, t := range deletes {
		body.Deletes = append(body.Deletes, client.ClientTupleKeyWithoutCondition{User: t.User, Relation: t.Relation, Object: t.Object})
	}

	if _, err := c.fga.Write(ctx).Body(body).Execute(); err != nil {
		c.logger.Error("OpenFGA write failed", "writes", len(writes), "deletes", len(deletes), "error", err)
		return err
	}

	c.logger.Debug("OpenFGA tuples written", "writes", len(writes), "deletes", len(deletes))
	return nil
}
