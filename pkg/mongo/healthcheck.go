package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// Healthcheck returns a check that pings the deployment.
func Healthcheck(client *mongo.Client) resilience.CheckFunc {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
